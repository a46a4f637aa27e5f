package main

import "flag"

// Args are command line arguments.
type Args struct {
	ConfigFile     string
	Username       string
	Debug          bool
	Verbose        bool
	ShowTimestamps bool
}

func getArgs() Args {
	configFile := flag.String("config", "", "Configuration file.")
	username := flag.String("username", "",
		"Flow account username to log in as. Overrides the configuration.")
	debug := flag.Bool("debug", false, "Enable debug output.")
	verbose := flag.Bool("verbose", false, "Enable verbose output.")
	showTimestamps := flag.Bool("show-timestamps", false,
		"Prefix messages with their creation time.")

	flag.Parse()

	return Args{
		ConfigFile:     *configFile,
		Username:       *username,
		Debug:          *debug,
		Verbose:        *verbose,
		ShowTimestamps: *showTimestamps,
	}
}
