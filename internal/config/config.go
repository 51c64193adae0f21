package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// RoverConfig configures the hardware-side daemon.
type RoverConfig struct {
	ServerHost       string `toml:"server_host"`
	ServerPort       int    `toml:"server_port"`
	ConnectTimeoutMS int    `toml:"connect_timeout_ms"`
	ReconnectDelayMS int    `toml:"reconnect_delay_ms"`

	CameraFPS int `toml:"camera_fps"`

	Motors  MotorConfig     `toml:"motors"`
	Ranging RangingConfig   `toml:"ranging"`
	Sensors []SensorConfig  `toml:"sensors"`
	MQTT    TelemetryConfig `toml:"mqtt"`
}

// MotorConfig maps the two wheel groups onto GPIO pins. Each group is a
// front+rear wheel pair on one side of the chassis.
type MotorConfig struct {
	PWMFrequencyHz    int `toml:"pwm_frequency_hz"`
	WatchdogTimeoutMS int `toml:"watchdog_timeout_ms"`

	Left  WheelGroupPins `toml:"left"`
	Right WheelGroupPins `toml:"right"`
}

// WheelGroupPins is the pin set for one drive group.
type WheelGroupPins struct {
	ForwardPins  []int `toml:"forward_pins"`
	BackwardPins []int `toml:"backward_pins"`
	PWMPins      []int `toml:"pwm_pins"`
}

// RangingConfig tunes the ultrasonic array.
type RangingConfig struct {
	MinDistanceCM        float64 `toml:"min_distance_cm"`
	MaxDistanceCM        float64 `toml:"max_distance_cm"`
	StopDistanceCM       float64 `toml:"stop_distance_cm"`
	EchoTimeoutMS        int     `toml:"echo_timeout_ms"`
	SettleDelayMS        int     `toml:"settle_delay_ms"`
	AssumeClearOnInvalid *bool   `toml:"assume_clear_on_invalid"`
}

// SensorConfig describes one ultrasonic sensor.
type SensorConfig struct {
	Key  string `toml:"key"`
	Name string `toml:"name"`
	Trig int    `toml:"trig"`
	Echo int    `toml:"echo"`
	Zone string `toml:"zone"`
}

// TelemetryConfig gates the MQTT side channel.
type TelemetryConfig struct {
	Enabled   bool   `toml:"enabled"`
	BrokerURL string `toml:"broker_url"`
	ClientID  string `toml:"client_id"`
	TopicBase string `toml:"topic_base"`
}

// ControllerConfig configures the decision-side daemon.
type ControllerConfig struct {
	ListenHost         string   `toml:"listen_host"`
	ListenPort         int      `toml:"listen_port"`
	MaxConnections     int      `toml:"max_connections"`
	HTTPAddr           string   `toml:"http_addr"`
	CorsOrigins        []string `toml:"cors_origins"`
	Goal               string   `toml:"goal"`
	InferenceTimeoutMS int      `toml:"inference_timeout_ms"`
	FrameTimeoutMS     int      `toml:"frame_timeout_ms"`
	CommandHistorySize int      `toml:"command_history_size"`
}

func LoadRoverConfig(path string) (RoverConfig, error) {
	var cfg RoverConfig
	if err := loadToml(path, &cfg); err != nil {
		return RoverConfig{}, err
	}
	applyRoverDefaults(&cfg)
	if err := ValidateRoverConfig(cfg); err != nil {
		return RoverConfig{}, err
	}
	return cfg, nil
}

func LoadControllerConfig(path string) (ControllerConfig, error) {
	var cfg ControllerConfig
	if err := loadToml(path, &cfg); err != nil {
		return ControllerConfig{}, err
	}
	applyControllerDefaults(&cfg)
	if err := ValidateControllerConfig(cfg); err != nil {
		return ControllerConfig{}, err
	}
	return cfg, nil
}

// DefaultRoverConfig is the stock wiring for the reference chassis:
// two L298N drivers, five HC-SR04 sensors through a level shifter.
func DefaultRoverConfig() RoverConfig {
	var cfg RoverConfig
	applyRoverDefaults(&cfg)
	return cfg
}

func DefaultControllerConfig() ControllerConfig {
	var cfg ControllerConfig
	applyControllerDefaults(&cfg)
	return cfg
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func applyRoverDefaults(cfg *RoverConfig) {
	if cfg.ServerHost == "" {
		cfg.ServerHost = "192.168.1.100"
	}
	if cfg.ServerPort == 0 {
		cfg.ServerPort = 5555
	}
	if cfg.ConnectTimeoutMS == 0 {
		cfg.ConnectTimeoutMS = 10_000
	}
	if cfg.ReconnectDelayMS == 0 {
		cfg.ReconnectDelayMS = 5_000
	}
	if cfg.CameraFPS == 0 {
		cfg.CameraFPS = 10
	}
	if cfg.Motors.PWMFrequencyHz == 0 {
		cfg.Motors.PWMFrequencyHz = 1000
	}
	if cfg.Motors.WatchdogTimeoutMS == 0 {
		cfg.Motors.WatchdogTimeoutMS = 1000
	}
	if len(cfg.Motors.Left.ForwardPins) == 0 {
		cfg.Motors.Left = WheelGroupPins{
			ForwardPins:  []int{17, 5},
			BackwardPins: []int{27, 6},
			PWMPins:      []int{12, 18},
		}
	}
	if len(cfg.Motors.Right.ForwardPins) == 0 {
		cfg.Motors.Right = WheelGroupPins{
			ForwardPins:  []int{22, 16},
			BackwardPins: []int{23, 26},
			PWMPins:      []int{13, 19},
		}
	}
	if cfg.Ranging.MinDistanceCM == 0 {
		cfg.Ranging.MinDistanceCM = 2
	}
	if cfg.Ranging.MaxDistanceCM == 0 {
		cfg.Ranging.MaxDistanceCM = 400
	}
	if cfg.Ranging.StopDistanceCM == 0 {
		cfg.Ranging.StopDistanceCM = 20
	}
	if cfg.Ranging.EchoTimeoutMS == 0 {
		cfg.Ranging.EchoTimeoutMS = 30
	}
	if cfg.Ranging.SettleDelayMS == 0 {
		cfg.Ranging.SettleDelayMS = 10
	}
	if cfg.Ranging.AssumeClearOnInvalid == nil {
		v := true
		cfg.Ranging.AssumeClearOnInvalid = &v
	}
	if len(cfg.Sensors) == 0 {
		cfg.Sensors = []SensorConfig{
			{Key: "FC", Name: "Front Center", Trig: 4, Echo: 14, Zone: "front"},
			{Key: "FL", Name: "Front Left", Trig: 15, Echo: 24, Zone: "front"},
			{Key: "FR", Name: "Front Right", Trig: 25, Echo: 8, Zone: "front"},
			{Key: "RL", Name: "Rear Left", Trig: 7, Echo: 9, Zone: "rear"},
			{Key: "RR", Name: "Rear Right", Trig: 10, Echo: 11, Zone: "rear"},
		}
	}
	if cfg.MQTT.TopicBase == "" {
		cfg.MQTT.TopicBase = "roverctl"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "roverd"
	}
}

func applyControllerDefaults(cfg *ControllerConfig) {
	if cfg.ListenHost == "" {
		cfg.ListenHost = "0.0.0.0"
	}
	if cfg.ListenPort == 0 {
		cfg.ListenPort = 5555
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 1
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.InferenceTimeoutMS == 0 {
		cfg.InferenceTimeoutMS = 2000
	}
	if cfg.FrameTimeoutMS == 0 {
		cfg.FrameTimeoutMS = 1000
	}
	if cfg.CommandHistorySize == 0 {
		cfg.CommandHistorySize = 100
	}
}

func ValidateRoverConfig(cfg RoverConfig) error {
	if strings.TrimSpace(cfg.ServerHost) == "" {
		return fmt.Errorf("rover config missing server_host")
	}
	if cfg.ServerPort <= 0 || cfg.ServerPort > 65535 {
		return fmt.Errorf("rover config invalid server_port %d", cfg.ServerPort)
	}
	if err := validateWheelGroup("left", cfg.Motors.Left); err != nil {
		return err
	}
	if err := validateWheelGroup("right", cfg.Motors.Right); err != nil {
		return err
	}
	if cfg.Ranging.MinDistanceCM >= cfg.Ranging.MaxDistanceCM {
		return fmt.Errorf("ranging min_distance_cm must be below max_distance_cm")
	}
	seen := make(map[string]bool, len(cfg.Sensors))
	for i, s := range cfg.Sensors {
		if strings.TrimSpace(s.Key) == "" {
			return fmt.Errorf("sensor[%d] missing key", i)
		}
		if seen[s.Key] {
			return fmt.Errorf("sensor[%d] duplicate key %q", i, s.Key)
		}
		seen[s.Key] = true
		if strings.TrimSpace(s.Zone) == "" {
			return fmt.Errorf("sensor[%d] (%s) missing zone", i, s.Key)
		}
	}
	if cfg.MQTT.Enabled && strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
		return fmt.Errorf("mqtt enabled but broker_url missing")
	}
	return nil
}

func validateWheelGroup(name string, g WheelGroupPins) error {
	if len(g.ForwardPins) == 0 || len(g.BackwardPins) == 0 {
		return fmt.Errorf("wheel group %s missing direction pins", name)
	}
	if len(g.ForwardPins) != len(g.BackwardPins) {
		return fmt.Errorf("wheel group %s forward/backward pin counts differ", name)
	}
	if len(g.PWMPins) == 0 {
		return fmt.Errorf("wheel group %s missing pwm pins", name)
	}
	return nil
}

func ValidateControllerConfig(cfg ControllerConfig) error {
	if strings.TrimSpace(cfg.ListenHost) == "" {
		return fmt.Errorf("controller config missing listen_host")
	}
	if cfg.ListenPort <= 0 || cfg.ListenPort > 65535 {
		return fmt.Errorf("controller config invalid listen_port %d", cfg.ListenPort)
	}
	if cfg.MaxConnections < 1 {
		return fmt.Errorf("controller config max_connections must be at least 1")
	}
	return nil
}
