package main

import (
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/horgh/config"
	"github.com/pkg/errors"
)

// Config holds the gateway's configuration.
type Config struct {
	// ListenPorts are the ports to accept IRC clients on. We bind loopback
	// only.
	ListenPorts []int

	// GatewayName is the name we present as the IRC server name.
	GatewayName string

	// Flow service parameters, handed to the flowappglue subprocess.
	FlowServHost      string
	FlowServPort      string
	DBDir             string
	SchemaDir         string
	AttachmentDir     string
	ServerURI         string
	FlowappglueBinary string
	UseTLS            bool

	// Username forces which Flow account to log in as. Blank means discover
	// the first account in the local device database.
	Username string

	Debug          bool
	Verbose        bool
	ShowTimestamps bool

	// WakeupTime is the period between aliveness sweeps.
	WakeupTime time.Duration

	// PingTime is how long a client may be idle before we PING it.
	PingTime time.Duration

	// DeadTime is how long a client may be idle before we give up on it.
	DeadTime time.Duration
}

// Maximum length of the server name we present. From RFC 2812.
const gatewayNameLimit = 63

func defaultConfig() Config {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "localhost"
	}
	if len(name) > gatewayNameLimit {
		name = name[:gatewayNameLimit]
	}

	return Config{
		ListenPorts:       []int{6667},
		GatewayName:       name,
		FlowappglueBinary: "flowappglue",
		UseTLS:            true,
		WakeupTime:        10 * time.Second,
		PingTime:          90 * time.Second,
		DeadTime:          180 * time.Second,
	}
}

// checkAndParseConfig checks the configuration file and loads it into the
// gateway. The file is optional; every key has a default.
func (g *Gateway) checkAndParseConfig(file string) error {
	g.Config = defaultConfig()

	if file == "" {
		return nil
	}

	configMap, err := config.ReadStringMap(file)
	if err != nil {
		return err
	}

	if v, exists := configMap["irc-ports"]; exists {
		ports, err := parsePorts(v)
		if err != nil {
			return err
		}
		g.Config.ListenPorts = ports
	}

	stringKeys := map[string]*string{
		"gateway-name":   &g.Config.GatewayName,
		"server":         &g.Config.FlowServHost,
		"port":           &g.Config.FlowServPort,
		"db":             &g.Config.DBDir,
		"schema":         &g.Config.SchemaDir,
		"attachment-dir": &g.Config.AttachmentDir,
		"uri":            &g.Config.ServerURI,
		"flowappglue":    &g.Config.FlowappglueBinary,
		"username":       &g.Config.Username,
	}
	for key, target := range stringKeys {
		if v, exists := configMap[key]; exists {
			*target = v
		}
	}

	boolKeys := map[string]*bool{
		"use-tls":         &g.Config.UseTLS,
		"debug":           &g.Config.Debug,
		"verbose":         &g.Config.Verbose,
		"show-timestamps": &g.Config.ShowTimestamps,
	}
	for key, target := range boolKeys {
		if v, exists := configMap[key]; exists {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return errors.Wrapf(err, "%s must be a boolean", key)
			}
			*target = b
		}
	}

	durationKeys := map[string]*time.Duration{
		"wakeup-time": &g.Config.WakeupTime,
		"ping-time":   &g.Config.PingTime,
		"dead-time":   &g.Config.DeadTime,
	}
	for key, target := range durationKeys {
		if v, exists := configMap[key]; exists {
			d, err := time.ParseDuration(v)
			if err != nil {
				return errors.Wrapf(err, "%s must be a duration", key)
			}
			*target = d
		}
	}

	if len(g.Config.GatewayName) > gatewayNameLimit {
		g.Config.GatewayName = g.Config.GatewayName[:gatewayNameLimit]
	}

	return nil
}

var portSeparatorRE = regexp.MustCompile(`[,\s]+`)

// parsePorts parses a comma or whitespace separated list of ports.
func parsePorts(s string) ([]int, error) {
	var ports []int
	for _, piece := range portSeparatorRE.Split(s, -1) {
		if piece == "" {
			continue
		}
		port, err := strconv.Atoi(piece)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid port: %q", piece)
		}
		if port <= 0 || port > 65535 {
			return nil, errors.Errorf("port out of range: %d", port)
		}
		ports = append(ports, port)
	}
	if len(ports) == 0 {
		return nil, errors.New("no ports given")
	}
	return ports, nil
}
