package main

import (
	"time"

	"github.com/urfave/cli/v2"
)

var FlagConfig = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "YAML file with agent settings",
	EnvVars: []string{"MAUZR_CONFIG"},
}

var FlagName = &cli.StringFlag{
	Name:    "name",
	Usage:   "agent name, used as client id",
	EnvVars: []string{"MAUZR_NAME"},
}

var FlagPassword = &cli.StringFlag{
	Name:    "password",
	Usage:   "broker password and PKCS#12 passphrase",
	EnvVars: []string{"MAUZR_PASSWORD"},
}

var FlagServer = &cli.StringFlag{
	Name:    "server",
	Usage:   "domain announcing brokers via _secure-mqtt._tcp SRV records",
	EnvVars: []string{"MAUZR_SERVER"},
}

var FlagServers = &cli.StringSliceFlag{
	Name:    "servers",
	Usage:   "explicit broker URLs such as tls://broker:8883",
	EnvVars: []string{"MAUZR_SERVERS"},
}

var FlagCA = &cli.StringFlag{
	Name:    "ca",
	Usage:   "CA certificate file",
	EnvVars: []string{"MAUZR_CA"},
}

var FlagCert = &cli.StringFlag{
	Name:    "crt",
	Aliases: []string{"cert"},
	Usage:   "client certificate file, PEM or .p12/.pfx",
	EnvVars: []string{"MAUZR_CRT"},
}

var FlagKey = &cli.StringFlag{
	Name:    "key",
	Usage:   "client key file",
	EnvVars: []string{"MAUZR_KEY"},
}

var FlagKeepalive = &cli.DurationFlag{
	Name:    "keepalive",
	Usage:   "MQTT keepalive interval",
	Value:   60 * time.Second,
	EnvVars: []string{"MAUZR_KEEPALIVE"},
}

var FlagBackoff = &cli.DurationFlag{
	Name:    "backoff",
	Usage:   "delay between connection attempts",
	Value:   10 * time.Second,
	EnvVars: []string{"MAUZR_BACKOFF"},
}

var FlagMaxSleep = &cli.DurationFlag{
	Name:    "max-sleep",
	Usage:   "longest idle period of the scheduler",
	Value:   time.Second,
	EnvVars: []string{"MAUZR_MAX_SLEEP"},
}

var FlagSyncInterval = &cli.DurationFlag{
	Name:    "sync-interval",
	Usage:   "interval for flushing the ledger store",
	Value:   60 * time.Second,
	EnvVars: []string{"MAUZR_SYNC_INTERVAL"},
}

var FlagLogLevel = &cli.StringFlag{
	Name:    "log-level",
	Usage:   "one of: debug, info, warning, error",
	Value:   "debug",
	EnvVars: []string{"MAUZR_LOG_LEVEL"},
}

var FlagLogWriter = &cli.StringFlag{
	Name:    "log-writer",
	Usage:   "one of: console, json",
	Value:   "console",
	EnvVars: []string{"MAUZR_LOG_WRITER"},
}

var FlagDataPath = &cli.StringFlag{
	Name:    "data-path",
	Usage:   "directory holding per agent state",
	Value:   "/var/lib/mauzr",
	EnvVars: []string{"MAUZR_DATA_PATH"},
}

var FlagStore = &cli.StringFlag{
	Name:    "store",
	Usage:   "ledger store, one of: sqlite, mongo, memory",
	Value:   "sqlite",
	EnvVars: []string{"MAUZR_STORE"},
}

var FlagMongoURI = &cli.StringFlag{
	Name:    "mongo-uri",
	Usage:   "MongoDB URI for the mongo store",
	EnvVars: []string{"MAUZR_MONGO_URI"},
}

var Flags = []cli.Flag{
	FlagConfig,
	FlagName,
	FlagPassword,
	FlagServer,
	FlagServers,
	FlagCA,
	FlagCert,
	FlagKey,
	FlagKeepalive,
	FlagBackoff,
	FlagMaxSleep,
	FlagSyncInterval,
	FlagLogLevel,
	FlagLogWriter,
	FlagDataPath,
	FlagStore,
	FlagMongoURI,
}

var FlagFormat = &cli.StringFlag{
	Name:  "format",
	Usage: "payload format: str, bytes, json or struct/<layout>",
	Value: "str",
}

var FlagQoS = &cli.UintFlag{
	Name:  "qos",
	Usage: "QoS level 0, 1 or 2",
	Value: 1,
}

var FlagRetain = &cli.BoolFlag{
	Name:  "retain",
	Usage: "publish retained",
}

var FlagMeta = &cli.BoolFlag{
	Name:  "meta",
	Usage: "also publish format and description meta topics",
}

var FlagDescription = &cli.StringFlag{
	Name:  "description",
	Usage: "description published with --meta",
}
