// Package config provides the session configuration for target-tester.
//
// A session is described by a YAML file (JSON is accepted too) layered on top
// of DefaultConfig. Target-specific values such as the vector table address
// and adapter speed can come from the embedded board catalog instead.
//
// # Configuration File Location
//
// Without --config the file is looked up in the platform directory:
//   - Linux: $XDG_CONFIG_HOME/target-tester/config.yaml or $HOME/.config/target-tester/config.yaml
//   - macOS: $HOME/.config/target-tester/config.yaml
//   - Windows: %LOCALAPPDATA%\target-tester\config.yaml
//
// A missing default file is not an error.
//
// # Example
//
//	backend: openocd
//	board: s32k148
//	openocd:
//	  host: localhost
//	  port: 6666
//	timeouts:
//	  startup: 500ms
//	  test: 2s
//	junit: build/junit.xml
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
//	if err := cfg.ResolveBoard(); err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
