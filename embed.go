package streamchat

import _ "embed"

// DefaultConfig is the configuration used when no config file exists in the user config directory. It
// runs the offline echo provider.
//
//go:embed config.example.yaml
var DefaultConfig []byte
