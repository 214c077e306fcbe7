// Package config loads docportal settings from a YAML file.
//
// Values of the form ${VAR} or ${VAR:-default} are replaced from the
// environment before parsing. Missing fields take defaults, and the result
// is validated before it is returned. Helper methods convert each section
// into the option types the components accept.
package config
