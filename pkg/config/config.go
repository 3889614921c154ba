package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/itohio/golevel/pkg/tank"
	"gopkg.in/yaml.v3"
)

// ErrThresholdOrder is returned when a tank's level band is not strictly
// ordered as min_fill < fill_to < drain_to < max_fill.
var ErrThresholdOrder = errors.New("thresholds must satisfy min_fill < fill_to < drain_to < max_fill")

// Config represents the application configuration.
type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	ADC     ADCConfig     `yaml:"adc"`
	Sensor  SensorConfig  `yaml:"sensor"`
	Tanks   TanksConfig   `yaml:"tanks"`
	Control ControlConfig `yaml:"control"`
	HTTP    HTTPConfig    `yaml:"http"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Mock    MockConfig    `yaml:"mock"`
}

// SerialConfig contains serial port configuration for the request/response link.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// ADCConfig describes the analog front end: reference voltage, full-scale
// count and the resistor divider in front of the sensor output.
type ADCConfig struct {
	VRef   float32 `yaml:"vref"`
	Levels float32 `yaml:"levels"`
	R1     float32 `yaml:"r1"`
	R2     float32 `yaml:"r2"`
}

// SensorConfig is the linear transfer function of the pressure sensor:
// pressure = Gain*voltage + Offset.
type SensorConfig struct {
	Gain   float32 `yaml:"gain"`
	Offset float32 `yaml:"offset"`
}

// TankConfig contains the level band and calibration of one tank.
type TankConfig struct {
	MinFill            float32       `yaml:"min_fill"`
	FillTo             float32       `yaml:"fill_to"`
	DrainTo            float32       `yaml:"drain_to"`
	MaxFill            float32       `yaml:"max_fill"`
	UsableHeightOffset float32       `yaml:"usable_height_offset"`
	ZeroPressureOffset float32       `yaml:"zero_pressure_offset"`
	CalibrationA       float32       `yaml:"calibration_a"`
	CalibrationB       float32       `yaml:"calibration_b"`
	SamplePeriod       time.Duration `yaml:"sample_period"`
}

// TanksConfig holds the configuration of both tanks.
type TanksConfig struct {
	Tank1 TankConfig `yaml:"tank1"`
	Tank2 TankConfig `yaml:"tank2"`
}

// ControlConfig contains the timing of the control workers.
type ControlConfig struct {
	ActuatorPoll       time.Duration `yaml:"actuator_poll"`        // valve actuator loop delay
	SignalTimeout      time.Duration `yaml:"signal_timeout"`       // actuator wait per mailbox check
	RequestTimeout     time.Duration `yaml:"request_timeout"`      // measurement wait per mailbox check
	ReadingSendTimeout time.Duration `yaml:"reading_send_timeout"` // max block when the readings queue is full
	SettleDelay        time.Duration `yaml:"settle_delay"`         // supervisor pause after each transition
	AverageFilledOnly  bool          `yaml:"average_filled_only"`  // average over filled slots only
	ResampleOnStart    bool          `yaml:"resample_on_start"`    // read the enable line once at startup
}

// HTTPConfig contains the status API configuration.
type HTTPConfig struct {
	Listen        string        `yaml:"listen"`
	HistoryWindow time.Duration `yaml:"history_window"`
}

// MQTTConfig contains telemetry publisher configuration. An empty broker
// disables publishing.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// MockConfig contains simulated plant configuration.
type MockConfig struct {
	InitialLevel1  float32       `yaml:"initial_level1"` // Starting height of tank 1 (cm)
	InitialLevel2  float32       `yaml:"initial_level2"` // Starting height of tank 2 (cm)
	FillRate       float32       `yaml:"fill_rate"`      // Inflow with fill valve open (cm/s)
	DrainRate      float32       `yaml:"drain_rate"`     // Outflow with drain valve open (cm/s)
	LeakRate       float32       `yaml:"leak_rate"`      // Constant consumption (cm/s)
	Noise          float32       `yaml:"noise"`          // Sensor noise amplitude (ADC counts)
	Step           time.Duration `yaml:"step"`           // Simulation step
	EnabledAtStart bool          `yaml:"enabled_at_start"`
}

// Default returns a default configuration matching the reference board.
func Default() *Config {
	t1 := tank.DefaultThresholds(tank.Tank1)
	t2 := tank.DefaultThresholds(tank.Tank2)
	return &Config{
		Serial: SerialConfig{
			Port:        "", // no serial link unless configured, e.g. "/dev/ttyUSB0"
			BaudRate:    9600,
			ReadTimeout: 100 * time.Millisecond,
		},
		ADC: ADCConfig{
			VRef:   3.0,
			Levels: 4095,
			R1:     220,
			R2:     280,
		},
		Sensor: SensorConfig{
			Gain:   20000.0 / 9.0,
			Offset: -4000.0 / 9.0,
		},
		Tanks: TanksConfig{
			Tank1: fromThresholds(t1),
			Tank2: fromThresholds(t2),
		},
		Control: ControlConfig{
			ActuatorPoll:       20 * time.Millisecond,
			SignalTimeout:      20 * time.Millisecond,
			RequestTimeout:     10 * time.Millisecond,
			ReadingSendTimeout: time.Second,
			SettleDelay:        time.Second,
		},
		HTTP: HTTPConfig{
			Listen:        ":8080",
			HistoryWindow: 10 * time.Minute,
		},
		MQTT: MQTTConfig{
			TopicPrefix: "tanks",
		},
		Mock: MockConfig{
			InitialLevel1: 15,
			InitialLevel2: 40,
			FillRate:      1.0,
			DrainRate:     1.5,
			LeakRate:      0.1,
			Noise:         2,
			Step:          100 * time.Millisecond,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration before any worker starts.
func (c *Config) Validate() error {
	for _, id := range tank.IDs {
		th := c.Thresholds(id)
		if !th.Ordered() {
			return fmt.Errorf("%s: %w", id, ErrThresholdOrder)
		}
		if th.SamplePeriod <= 0 {
			return fmt.Errorf("%s: sample_period must be positive", id)
		}
	}
	if c.ADC.Levels <= 0 || c.ADC.R2 <= 0 {
		return fmt.Errorf("adc: levels and r2 must be positive")
	}
	if c.Serial.ReadTimeout < 0 {
		return fmt.Errorf("serial: read_timeout must not be negative")
	}

	if c.Control.ActuatorPoll <= 0 {
		return fmt.Errorf("control: actuator_poll must be positive")
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"signal_timeout", c.Control.SignalTimeout},
		{"request_timeout", c.Control.RequestTimeout},
		{"reading_send_timeout", c.Control.ReadingSendTimeout},
		{"settle_delay", c.Control.SettleDelay},
	} {
		if d.value < 0 {
			return fmt.Errorf("control: %s must not be negative", d.name)
		}
	}

	if c.HTTP.HistoryWindow <= 0 {
		return fmt.Errorf("http: history_window must be positive")
	}
	if c.Mock.Step <= 0 {
		return fmt.Errorf("mock: step must be positive")
	}
	return nil
}

// Tank returns the configuration of the given tank.
func (c *Config) Tank(id tank.ID) *TankConfig {
	if id == tank.Tank2 {
		return &c.Tanks.Tank2
	}
	return &c.Tanks.Tank1
}

// Thresholds returns the immutable threshold set of the given tank.
func (c *Config) Thresholds(id tank.ID) tank.Thresholds {
	tc := c.Tank(id)
	return tank.Thresholds{
		MinFill:            tc.MinFill,
		FillTo:             tc.FillTo,
		DrainTo:            tc.DrainTo,
		MaxFill:            tc.MaxFill,
		UsableHeightOffset: tc.UsableHeightOffset,
		ZeroPressureOffset: tc.ZeroPressureOffset,
		CalibrationA:       tc.CalibrationA,
		CalibrationB:       tc.CalibrationB,
		SamplePeriod:       tc.SamplePeriod,
	}
}

// ReadingTimeout is how long the transport waits for a fresh reading of the
// given tank: ten sample periods.
func (c *Config) ReadingTimeout(id tank.ID) time.Duration {
	return 10 * c.Tank(id).SamplePeriod
}

func fromThresholds(th tank.Thresholds) TankConfig {
	return TankConfig{
		MinFill:            th.MinFill,
		FillTo:             th.FillTo,
		DrainTo:            th.DrainTo,
		MaxFill:            th.MaxFill,
		UsableHeightOffset: th.UsableHeightOffset,
		ZeroPressureOffset: th.ZeroPressureOffset,
		CalibrationA:       th.CalibrationA,
		CalibrationB:       th.CalibrationB,
		SamplePeriod:       th.SamplePeriod,
	}
}

// ensureDefaults replaces zero values that cannot be meant literally. Load
// starts from Default, so a zero here was written explicitly; fields where
// zero is a valid setting (offsets, calibration intercept, mailbox waits,
// settle delay, rates) are left as written.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	// A zero read timeout blocks the transport past cancellation.
	if c.Serial.ReadTimeout == 0 {
		c.Serial.ReadTimeout = def.Serial.ReadTimeout
	}

	if c.ADC.VRef == 0 {
		c.ADC.VRef = def.ADC.VRef
	}
	if c.ADC.Levels == 0 {
		c.ADC.Levels = def.ADC.Levels
	}
	if c.ADC.R2 == 0 {
		c.ADC.R2 = def.ADC.R2
	}

	if c.Sensor.Gain == 0 {
		c.Sensor.Gain = def.Sensor.Gain
	}

	for _, id := range tank.IDs {
		tc, dt := c.Tank(id), def.Tank(id)
		// A tank with no band at all falls back to the board defaults as a whole.
		if tc.MinFill == 0 && tc.FillTo == 0 && tc.DrainTo == 0 && tc.MaxFill == 0 {
			tc.MinFill, tc.FillTo, tc.DrainTo, tc.MaxFill = dt.MinFill, dt.FillTo, dt.DrainTo, dt.MaxFill
		}
		if tc.CalibrationA == 0 {
			tc.CalibrationA = dt.CalibrationA
		}
		if tc.SamplePeriod == 0 {
			tc.SamplePeriod = dt.SamplePeriod
		}
	}

	if c.Control.ActuatorPoll == 0 {
		c.Control.ActuatorPoll = def.Control.ActuatorPoll
	}

	if c.HTTP.HistoryWindow == 0 {
		c.HTTP.HistoryWindow = def.HTTP.HistoryWindow
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = def.MQTT.TopicPrefix
	}

	if c.Mock.Step == 0 {
		c.Mock.Step = def.Mock.Step
	}
}
