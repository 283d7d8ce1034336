// Package config provides configuration parsing for the stan CLI.
//
// The configuration is stored in stan.json, looked up in the working
// directory or any parent. Every field is optional.
//
// # Configuration File Structure
//
//	{
//	  "log": {
//	    "level": "info",
//	    "format": "text"
//	  },
//	  "formula": {
//	    "engine": "expr"
//	  },
//	  "serve": {
//	    "host": "localhost",
//	    "port": 7070
//	  },
//	  "metrics": {
//	    "enabled": true,
//	    "namespace": "stan"
//	  },
//	  "tracing": {
//	    "enabled": false,
//	    "tracerName": "stan"
//	  }
//	}
//
// # Usage
//
//	cfg, err := config.LoadFromWorkingDir()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Address:", cfg.ServeAddress())
package config
