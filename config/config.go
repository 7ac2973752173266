package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del evaluador.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Optimizer  OptimizerConfig  `yaml:"optimizer"`
	Validation ValidationConfig `yaml:"validation"`
	Strategy   StrategyConfig   `yaml:"strategy"`
	Storage    StorageConfig    `yaml:"storage"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// SimulationConfig controla el batch de Monte-Carlo.
type SimulationConfig struct {
	Simulations int    `yaml:"simulations" validate:"gte=1"`
	Steps       int    `yaml:"steps" validate:"gte=1"`
	SeedStart   uint64 `yaml:"seed_start"`
	SeedStride  uint64 `yaml:"seed_stride" validate:"gte=1"`
	Workers     int    `yaml:"workers" validate:"gte=0"` // 0 = min(8, NumCPU)

	InitialPrice float64  `yaml:"initial_price" validate:"gt=0"`
	InitialX     float64  `yaml:"initial_x" validate:"gt=0"`
	InitialY     float64  `yaml:"initial_y" validate:"gt=0"`
	Mu           float64  `yaml:"mu"`
	DT           float64  `yaml:"dt" validate:"gt=0"`
	SizeSigma    float64  `yaml:"size_sigma" validate:"gte=0"`
	BuyProb      *float64 `yaml:"buy_prob" validate:"omitempty,gte=0,lte=1"` // nil = 0.5

	Sigma       RangeConfig `yaml:"sigma"`
	ArrivalRate RangeConfig `yaml:"arrival_rate"`
	MeanSize    RangeConfig `yaml:"mean_size"`

	NormFeeBps        uint16  `yaml:"norm_fee_bps" validate:"lt=10000"`
	NormLiquidityMult float64 `yaml:"norm_liquidity_mult" validate:"gt=0"`

	Form           string `yaml:"form" validate:"oneof=native interpreted"`
	NormalizerForm string `yaml:"normalizer_form" validate:"oneof=native interpreted"`
	Trace          bool   `yaml:"trace"`
}

// RangeConfig es un rango uniforme semiabierto [Min, Max).
type RangeConfig struct {
	Min float64 `yaml:"min" validate:"gt=0"`
	Max float64 `yaml:"max" validate:"gtfield=Min"`
}

// OptimizerConfig ajusta la bisección del arbitrajista y el router retail.
type OptimizerConfig struct {
	ArbBand       *float64 `yaml:"arb_band" validate:"omitempty,gte=0"`
	ArbIterations int      `yaml:"arb_iterations" validate:"gte=1,lte=64"`
	ArbTolerance  float64  `yaml:"arb_tolerance" validate:"gte=0"`
	ArbProfitTol  float64  `yaml:"arb_profit_tol" validate:"gte=0"` // 0 desactiva el corte por profit plano
	ArbMinProfit  *float64 `yaml:"arb_min_profit" validate:"omitempty,gte=0"`
	ArbMinSize    float64  `yaml:"arb_min_size" validate:"gte=0"`

	RouterGridPoints  int     `yaml:"router_grid_points" validate:"gte=2"`
	RouterMinTrade    float64 `yaml:"router_min_trade" validate:"gte=0"`
	DisableShapeGuard bool    `yaml:"disable_shape_guard"`
}

// ValidationConfig controla las pruebas de validación.
type ValidationConfig struct {
	ReserveGrid    []ReservePair `yaml:"reserve_grid" validate:"min=1,dive"`
	Sizes          []float64     `yaml:"sizes" validate:"min=2,dive,gt=0"`
	RandomStates   int           `yaml:"random_states" validate:"gte=0"`
	ConvexityDelta float64       `yaml:"convexity_delta" validate:"gt=0"`
	ConvexitySlack *uint64       `yaml:"convexity_slack"`
	BudgetCU       uint64        `yaml:"budget_cu" validate:"gte=1"`

	ParitySamples  int     `yaml:"parity_samples" validate:"gte=1"`
	ParitySeed     uint64  `yaml:"parity_seed"`
	ParityAbsTol   uint64  `yaml:"parity_abs_tol"`
	ParityRelTol   float64 `yaml:"parity_rel_tol" validate:"gte=0"`
	ParityAdvisory bool    `yaml:"parity_advisory"` // reporta diferencias de paridad sin rechazar
}

// ReservePair es un estado de reservas (X, Y) del grid de pruebas.
type ReservePair struct {
	X float64 `yaml:"x" validate:"gt=0"`
	Y float64 `yaml:"y" validate:"gt=0"`
}

// StrategyConfig nombra la estrategia evaluada y el market maker de referencia.
type StrategyConfig struct {
	Name         string `yaml:"name" validate:"required"`
	NativePlugin string `yaml:"native_plugin"` // plugin Go que exporta ComputeSwap
	BPFProgram   string `yaml:"bpf_program"`   // objeto ELF sBPF
	Normalizer   string `yaml:"normalizer" validate:"required"`
}

// StorageConfig controla dónde se persisten los resultados.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta del archivo SQLite, o ":memory:"
}

// MetricsConfig controla el volcado textfile de Prometheus.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"` // vacío = desactivado
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Aplica los overrides de entorno y los defaults, y después valida el resultado.
func Load(path string) (*Config, error) {
	// .env es opcional
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Validate comprueba las restricciones de cada campo.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %s (%s)", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("PROPAMM_STRATEGY"); v != "" {
		cfg.Strategy.Name = v
	}
	if v := os.Getenv("PROPAMM_FORM"); v != "" {
		cfg.Simulation.Form = v
	}
	if v := os.Getenv("PROPAMM_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("PROPAMM_METRICS_TEXTFILE"); v != "" {
		cfg.Metrics.Textfile = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"PROPAMM_SIMULATIONS", &cfg.Simulation.Simulations},
		{"PROPAMM_STEPS", &cfg.Simulation.Steps},
		{"PROPAMM_WORKERS", &cfg.Simulation.Workers},
	}
	for _, e := range ints {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", e.key, err)
		}
		*e.dst = n
	}

	if v := os.Getenv("PROPAMM_BUDGET_CU"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("env PROPAMM_BUDGET_CU: %w", err)
		}
		cfg.Validation.BudgetCU = n
	}
	return nil
}

func ptr[T any](v T) *T { return &v }

// setDefaults rellena los valores ausentes con el mercado base y el set de pruebas.
// Los campos puntero distinguen un 0 explícito de una key ausente.
func setDefaults(cfg *Config) {
	s := &cfg.Simulation
	if s.Simulations <= 0 {
		s.Simulations = 1000
	}
	if s.Steps <= 0 {
		s.Steps = 10_000
	}
	if s.SeedStride == 0 {
		s.SeedStride = 1
	}
	if s.InitialPrice == 0 {
		s.InitialPrice = 100
	}
	if s.InitialX == 0 {
		s.InitialX = 100
	}
	if s.InitialY == 0 {
		s.InitialY = 10_000
	}
	if s.DT == 0 {
		s.DT = 1
	}
	if s.SizeSigma == 0 {
		s.SizeSigma = 1.2
	}
	if s.BuyProb == nil {
		s.BuyProb = ptr(0.5)
	}
	if s.Sigma == (RangeConfig{}) {
		s.Sigma = RangeConfig{Min: 0.000882, Max: 0.001008}
	}
	if s.ArrivalRate == (RangeConfig{}) {
		s.ArrivalRate = RangeConfig{Min: 0.6, Max: 1.0}
	}
	if s.MeanSize == (RangeConfig{}) {
		s.MeanSize = RangeConfig{Min: 19, Max: 21}
	}
	if s.NormFeeBps == 0 {
		s.NormFeeBps = 30
	}
	if s.NormLiquidityMult == 0 {
		s.NormLiquidityMult = 1
	}
	if s.Form == "" {
		s.Form = "native"
	}
	if s.NormalizerForm == "" {
		s.NormalizerForm = "native"
	}

	o := &cfg.Optimizer
	if o.ArbBand == nil {
		o.ArbBand = ptr(1e-4)
	}
	if o.ArbIterations == 0 {
		o.ArbIterations = 12
	}
	if o.ArbMinProfit == nil {
		o.ArbMinProfit = ptr(0.01)
	}
	if o.ArbMinSize == 0 {
		o.ArbMinSize = 0.001
	}
	if o.RouterGridPoints == 0 {
		o.RouterGridPoints = 101
	}
	if o.RouterMinTrade == 0 {
		o.RouterMinTrade = 0.001
	}

	v := &cfg.Validation
	if len(v.ReserveGrid) == 0 {
		v.ReserveGrid = []ReservePair{{100, 10_000}, {1_000, 100_000}, {10, 1_000}, {50, 20_000}}
	}
	if len(v.Sizes) == 0 {
		v.Sizes = []float64{0.1, 0.5, 1, 2, 5, 10, 20, 50, 100, 200}
	}
	if v.RandomStates == 0 {
		v.RandomStates = 32
	}
	if v.ConvexityDelta == 0 {
		v.ConvexityDelta = 0.001
	}
	if v.ConvexitySlack == nil {
		v.ConvexitySlack = ptr[uint64](1)
	}
	if v.BudgetCU == 0 {
		v.BudgetCU = 100_000
	}
	if v.ParitySamples == 0 {
		v.ParitySamples = 256
	}
	if v.ParitySeed == 0 {
		v.ParitySeed = 0x5eed
	}

	if cfg.Strategy.Name == "" {
		cfg.Strategy.Name = "starter"
	}
	if cfg.Strategy.Normalizer == "" {
		cfg.Strategy.Normalizer = "normalizer"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "propamm.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
