package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	log "github.com/sirupsen/logrus"
)

type Application struct {
	Addr      string    `koanf:"addr"`
	Database  Database  `koanf:"db"`
	Recurring Recurring `koanf:"recurring"`
}

type Database struct {
	Path string `koanf:"path"`
}

type Recurring struct {
	// SweepTime is when the daily sweep over recurring parents runs, HH:MM.
	SweepTime string `koanf:"sweeptime"`
	// SweepWorkers bounds how many parents are processed in parallel.
	SweepWorkers int `koanf:"sweepworkers"`
	// SweepOnStartup runs one sweep immediately when the service starts.
	SweepOnStartup bool `koanf:"sweeponstartup"`
}

func Load(path string) (Application, error) {
	var k = koanf.New(".")

	err := k.Load(structs.Provider(Application{
		Addr: ":8282",
		Database: Database{
			Path: "./data/ledgerd.db",
		},
		Recurring: Recurring{
			SweepTime:      "00:30",
			SweepWorkers:   4,
			SweepOnStartup: true,
		},
	}, "koanf"), nil)
	if err != nil {
		log.Errorf("error loading config from structs: %v", err)
		return Application{}, err
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if os.IsNotExist(err) {
			log.Infof("Config file not found at %s, using defaults and environment variables", path)
		} else {
			log.Errorf("error loading config from YAML: %v", err)
			return Application{}, err
		}
	} else {
		log.Infof("Loaded configuration from file: %s", path)
	}

	err = k.Load(env.Provider(".", env.Opt{
		Prefix: "LEDGERD_",
		TransformFunc: func(k, v string) (string, any) {
			// Transform the key.
			k = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, "LEDGERD_")), "_", ".")
			return k, v
		},
	}), nil)
	if err != nil {
		log.Errorf("error loading config from envs: %v", err)
		return Application{}, err
	}

	var app Application
	if err := k.Unmarshal("", &app); err != nil {
		return Application{}, err
	}

	return app, nil
}
