package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

const (
	flagModel         = "model"
	flagInput         = "input"
	flagDevice        = "device"
	flagCPUExtension  = "cpu-extension"
	flagProbThreshold = "prob-threshold"
	flagConfig        = "config"
	flagConfirmFrames = "confirm-frames"
	flagCountMode     = "count-mode"
	flagBackend       = "backend"
	flagEndpoint      = "endpoint"
	flagMQTTBroker    = "mqtt-broker"
	flagRedisAddr     = "redis-addr"
	flagHTTPAddr      = "http-addr"
	flagNoHTTP        = "no-http"
	flagNoStdout      = "no-stdout"
	flagLogMode       = "log-mode"
	flagDebug         = "debug"
)

// flagKeys maps CLI flags onto configuration keys. Flags override the
// config file and the environment.
var flagKeys = map[string]string{
	flagModel:         "detector.model",
	flagInput:         "input.source",
	flagDevice:        "detector.device",
	flagCPUExtension:  "detector.cpu_extension",
	flagProbThreshold: "occupancy.prob_threshold",
	flagConfirmFrames: "occupancy.confirm_frames",
	flagCountMode:     "occupancy.count_mode",
	flagBackend:       "detector.backend",
	flagEndpoint:      "detector.endpoint",
	flagMQTTBroker:    "telemetry.mqtt.broker",
	flagRedisAddr:     "telemetry.redis.addr",
	flagHTTPAddr:      "server.addr",
	flagLogMode:       "log.mode",
	flagDebug:         "server.debug",
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "peoplecounter: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:            "peoplecounter",
		Usage:           "count people in a video stream and publish occupancy metrics",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagModel,
				Aliases: []string{"m"},
				Usage:   "path to the detection model",
			},
			&cli.StringFlag{
				Name:    flagInput,
				Aliases: []string{"i"},
				Usage:   "video file, stream URL, image, or CAM for the camera",
			},
			&cli.StringFlag{
				Name:    flagDevice,
				Aliases: []string{"d"},
				Value:   "CPU",
				Usage:   "target device for inference (CPU, GPU, MYRIAD, ...)",
			},
			&cli.StringFlag{
				Name:    flagCPUExtension,
				Aliases: []string{"l"},
				Usage:   "CPU extension library forwarded to the inference backend",
			},
			&cli.Float64Flag{
				Name:    flagProbThreshold,
				Aliases: []string{"pt"},
				Value:   0.5,
				Usage:   "probability threshold for detections",
			},
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.IntFlag{
				Name:  flagConfirmFrames,
				Usage: "consecutive frames needed to start or end an episode",
			},
			&cli.StringFlag{
				Name:  flagCountMode,
				Usage: "published count: live or presence",
			},
			&cli.StringFlag{
				Name:  flagBackend,
				Usage: "inference backend: http or grpc",
			},
			&cli.StringFlag{
				Name:  flagEndpoint,
				Usage: "inference backend address",
			},
			&cli.StringFlag{
				Name:  flagMQTTBroker,
				Usage: "MQTT broker URL",
			},
			&cli.StringFlag{
				Name:  flagRedisAddr,
				Usage: "publish to Redis at `ADDR` as well",
			},
			&cli.StringFlag{
				Name:  flagHTTPAddr,
				Usage: "HTTP API listen address",
			},
			&cli.BoolFlag{
				Name:  flagNoHTTP,
				Usage: "disable the HTTP API",
			},
			&cli.BoolFlag{
				Name:  flagNoStdout,
				Usage: "do not write raw frames to stdout",
			},
			&cli.StringFlag{
				Name:  flagLogMode,
				Usage: "release (JSON) or debug (console)",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "log HTTP request and response bodies",
			},
		},
		Action: run,
	}
}

// applyFlags copies the flags the user passed into v
func applyFlags(c *cli.Context, v *viper.Viper) {
	for flag, key := range flagKeys {
		if c.IsSet(flag) {
			v.Set(key, c.Value(flag))
		}
	}
	if c.Bool(flagNoHTTP) {
		v.Set("server.enabled", false)
	}
	if c.Bool(flagNoStdout) {
		v.Set("output.stdout", false)
	}
	if c.IsSet(flagRedisAddr) {
		v.Set("telemetry.redis.enabled", true)
	}
}
