package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/eqrx/mauzr"
	"github.com/eqrx/mauzr/extensions/zerologger"
)

var runCommand = &cli.Command{
	Name:   "run",
	Usage:  "keep the agent session alive until interrupted",
	Action: runAction,
}

var pubCommand = &cli.Command{
	Name:      "pub",
	Usage:     "publish one value and wait until the broker acknowledged it",
	ArgsUsage: "TOPIC VALUE",
	Flags:     []cli.Flag{FlagFormat, FlagQoS, FlagRetain, FlagMeta, FlagDescription},
	Action:    pubAction,
}

var subCommand = &cli.Command{
	Name:      "sub",
	Usage:     "print every value received on a topic",
	ArgsUsage: "TOPIC",
	Flags:     []cli.Flag{FlagFormat, FlagQoS},
	Action:    subAction,
}

// setup loads the config and builds the agent for a command. A non-empty
// role gives the command its own client id and ledger, see commandConfig.
func setup(c *cli.Context, role string) (*agent, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	cfg = commandConfig(cfg, role)

	level, err := mauzr.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	var logger mauzr.Logger
	switch writer := c.String(FlagLogWriter.Name); writer {
	case "console":
		logger = zerologger.NewConsole(c.App.ErrWriter, level)
	case "json":
		logger = zerologger.NewJSON(c.App.ErrWriter, level)
	default:
		return nil, fmt.Errorf("invalid log writer %q", writer)
	}

	return newAgent(c.Context, cfg, logger)
}

// commandConfig derives the config of a short lived command running next to
// the agent. The broker allows one session per client id and the ledger
// must not be shared, so the command connects as <name>-<role>.
func commandConfig(cfg mauzr.Config, role string) mauzr.Config {
	if role != "" {
		cfg.Name += "-" + role
	}
	return cfg
}

func qosFlag(c *cli.Context) (byte, error) {
	qos := c.Uint(FlagQoS.Name)
	if qos > 2 {
		return 0, fmt.Errorf("%w: %d", mauzr.ErrInvalidQoS, qos)
	}
	return byte(qos), nil
}

func runAction(c *cli.Context) error {
	a, err := setup(c, "")
	if err != nil {
		return err
	}

	a.logger.Info("agent starting", mauzr.LogFields{"data_path": dataDir(a.cfg)})
	return a.run(c.Context, waitSignal)
}

func pubAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("pub needs TOPIC and VALUE", 2)
	}
	topic, arg := c.Args().Get(0), c.Args().Get(1)

	qos, err := qosFlag(c)
	if err != nil {
		return err
	}

	a, err := setup(c, "pub")
	if err != nil {
		return err
	}

	format := c.String(FlagFormat.Name)
	ser, err := serializerFor(a.conn, format, c.String(FlagDescription.Name))
	if err != nil {
		return err
	}

	value, err := parseValue(format, arg)
	if err != nil {
		return err
	}

	h, err := a.conn.Handle(topic, ser, qos, c.Bool(FlagRetain.Name))
	if err != nil {
		return err
	}

	ready := a.connected()

	return a.run(c.Context, func(ctx context.Context) error {
		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}

		// QoS > 0 messages that miss the connection stay in the ledger and
		// are drained by the shutdown.
		var offline *mauzr.OfflineError
		err := h.Publish(value)
		if errors.As(err, &offline) && offline.PacketID != 0 {
			err = nil
		}
		if err == nil && c.Bool(FlagMeta.Name) {
			err = h.PublishMeta()
		}
		if err != nil {
			return err
		}

		a.logger.Info("published", mauzr.LogFields{mauzr.LogFieldTopic: topic})
		return nil
	})
}

func subAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("sub needs TOPIC", 2)
	}
	topic := c.Args().Get(0)

	qos, err := qosFlag(c)
	if err != nil {
		return err
	}

	a, err := setup(c, "sub")
	if err != nil {
		return err
	}

	ser, err := serializerFor(a.conn, c.String(FlagFormat.Name), "")
	if err != nil {
		return err
	}

	h, err := a.conn.Handle(topic, ser, qos, false)
	if err != nil {
		return err
	}

	out := c.App.Writer
	sub, err := h.Subscribe(func(d mauzr.Delivery) error {
		marker := ""
		if d.Retained {
			marker = " (retained)"
		}
		_, err := fmt.Fprintf(out, "%s%s %s\n", d.Handle.Topic(), marker, formatValue(d.Value))
		return err
	}, mauzr.WithHandle(), mauzr.WithDeliveryInfo())
	if err != nil {
		return err
	}
	defer sub.Close()

	return a.run(c.Context, waitSignal)
}
