// Package secret resolves configuration values that must not be written
// into configuration files: ${VAR} environment references and secret
// references of the form
//
//	secretref:<provider>:<ref>
//
// e.g. "secretref:env:OTLP_TOKEN" or "Bearer secretref:file:/run/secrets/otlp".
// Providers must never log the values they resolve.
package secret
