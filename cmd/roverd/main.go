package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/strayline/roverctl/internal/config"
	"github.com/strayline/roverctl/internal/gpio"
	"github.com/strayline/roverctl/internal/link"
	"github.com/strayline/roverctl/internal/motor"
	"github.com/strayline/roverctl/internal/observability"
	"github.com/strayline/roverctl/internal/ranging"
	"github.com/strayline/roverctl/internal/rover"
	"github.com/strayline/roverctl/internal/telemetry"
)

var (
	configPath  = flag.String("config", "", "Path to rover config TOML (defaults apply when empty)")
	serverHost  = flag.String("server", "", "Controller host override")
	serverPort  = flag.Int("port", 0, "Controller port override")
	simulate    = flag.Bool("simulate", false, "Run against simulated GPIO and camera")
	captureCmd  = flag.String("capture_cmd", "", "Camera capture command (space-separated, JPEG on stdout)")
	testMotors  = flag.Bool("test_motors", false, "Run the motor self-test and exit")
	testSensors = flag.Bool("test_sensors", false, "Read all ranging sensors once and exit")
)

func main() {
	flag.Parse()
	observability.InitLogger("roverd")

	if err := run(); err != nil {
		log.Error().Err(err).Msg("roverd failed")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	chip, err := openChip()
	if err != nil {
		return err
	}
	defer chip.Close()

	motors := motor.NewSupervisor(chip, motorConfig(cfg))
	if err := motors.Setup(); err != nil {
		return err
	}
	defer motors.Teardown()

	sensors, err := ranging.NewArray(chip, sensorSpecs(cfg), rangingConfig(cfg))
	if err != nil {
		return err
	}

	if *testMotors {
		return motors.TestMotors()
	}
	if *testSensors {
		sensors.ReadAll()
		fmt.Println(sensors.Summary())
		return nil
	}

	camera := openCamera()
	defer camera.Close()

	telem, err := telemetry.NewPublisher(cfg.MQTT)
	if err != nil {
		log.Warn().Err(err).Msg("telemetry disabled, broker unavailable")
	}
	defer telem.Close()

	session := link.NewSession(link.SessionConfig{
		Host:           cfg.ServerHost,
		Port:           cfg.ServerPort,
		ConnectTimeout: time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond,
		ReconnectDelay: time.Duration(cfg.ReconnectDelayMS) * time.Millisecond,
		WriteTimeout:   10 * time.Second,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := rover.New(cfg, session, motors, sensors, camera, telem)
	if err := r.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func loadConfig() (config.RoverConfig, error) {
	cfg := config.DefaultRoverConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadRoverConfig(*configPath)
		if err != nil {
			return config.RoverConfig{}, err
		}
	}
	if *serverHost != "" {
		cfg.ServerHost = *serverHost
	}
	if *serverPort != 0 {
		cfg.ServerPort = *serverPort
	}
	return cfg, nil
}

func openChip() (gpio.Chip, error) {
	if *simulate {
		log.Info().Msg("using simulated GPIO")
		return gpio.NewSimChip(), nil
	}
	return gpio.OpenPi()
}

func openCamera() rover.FrameProducer {
	if *simulate {
		log.Info().Msg("using simulated camera")
		return rover.NewSimCamera()
	}
	return rover.NewStillCamera(strings.Fields(*captureCmd))
}

func motorConfig(cfg config.RoverConfig) motor.Config {
	return motor.Config{
		Left: motor.GroupConfig{
			ForwardPins:  cfg.Motors.Left.ForwardPins,
			BackwardPins: cfg.Motors.Left.BackwardPins,
			PWMPins:      cfg.Motors.Left.PWMPins,
		},
		Right: motor.GroupConfig{
			ForwardPins:  cfg.Motors.Right.ForwardPins,
			BackwardPins: cfg.Motors.Right.BackwardPins,
			PWMPins:      cfg.Motors.Right.PWMPins,
		},
		PWMFrequencyHz:  cfg.Motors.PWMFrequencyHz,
		WatchdogTimeout: time.Duration(cfg.Motors.WatchdogTimeoutMS) * time.Millisecond,
	}
}

func rangingConfig(cfg config.RoverConfig) ranging.Config {
	assumeClear := true
	if cfg.Ranging.AssumeClearOnInvalid != nil {
		assumeClear = *cfg.Ranging.AssumeClearOnInvalid
	}
	return ranging.Config{
		MinDistanceCM:        cfg.Ranging.MinDistanceCM,
		MaxDistanceCM:        cfg.Ranging.MaxDistanceCM,
		StopDistanceCM:       cfg.Ranging.StopDistanceCM,
		EchoTimeout:          time.Duration(cfg.Ranging.EchoTimeoutMS) * time.Millisecond,
		SettleDelay:          time.Duration(cfg.Ranging.SettleDelayMS) * time.Millisecond,
		AssumeClearOnInvalid: assumeClear,
	}
}

func sensorSpecs(cfg config.RoverConfig) []ranging.SensorSpec {
	specs := make([]ranging.SensorSpec, 0, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		specs = append(specs, ranging.SensorSpec{
			Key:  s.Key,
			Name: s.Name,
			Trig: s.Trig,
			Echo: s.Echo,
			Zone: s.Zone,
		})
	}
	return specs
}
