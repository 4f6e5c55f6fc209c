/*
Package config loads service settings and provides type-safe extraction
from map[string]any.

# Settings

Load assembles Settings from defaults, dotenv files (.env.local, .env,
.env.events), an optional YAML or JSON file, and ORDERFLOW_* variables,
later sources winning:

	s, err := config.Load(config.WithFile("orderflow.yaml"))
	if err != nil {
	    log.Fatal(err)
	}
	fmt.Println(s.BusName) // big-mouth-dev-order-events

A settings file uses dotted sections:

	service: big-mouth
	stage: ${STAGE:-dev}
	topics:
	  restaurant: restaurant_notification
	kafka:
	  brokers: [localhost:9092]

TapEnabled is false on any production stage regardless of configuration.

# Config

Config wraps a map and resolves dotted keys through nested maps. Accessors
return the default when the key is missing or cannot be converted:

	cfg := config.New(map[string]any{
	    "alerts": map[string]any{"period": "30s"},
	    "retries": "3",
	})

	cfg.Duration("alerts.period", time.Minute) // 30s
	cfg.Int("retries", 5)                      // 3
	cfg.Bool("missing", true)                  // true

Strings are accepted for every type so values taken from the environment
convert the same way as values decoded from YAML.

Config is safe for concurrent read access.
*/
package config
