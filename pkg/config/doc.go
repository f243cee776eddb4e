// Package config resolves the server, agent and CLI configuration with
// viper: flag over ANK_-prefixed environment over config file over
// default.
package config
