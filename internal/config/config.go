// Package config holds the frozen, per-symbol configuration the matching
// core reads at boot and never mutates mid-run (spec §6 "Configuration").
// Validation follows the teacher's habit of a single exported Config struct
// with struct-tag rules, swapped here from viper/mapstructure loading to
// go-playground/validator since nothing here needs file-watching.
package config

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"
)

// SchemaVersion is embedded in every SymbolConfig and in every snapshot blob
// (internal/persistence). restore() refuses a snapshot whose version is not
// compatible with the running binary's SchemaVersion (§9 Open Question 4's
// sibling concern: schema, not determinism-mode, compatibility).
var SchemaVersion = semver.MustParse("1.0.0")

// ExecIDMode selects how execution ids are assigned (§4.1 "Execution id").
type ExecIDMode uint8

const (
	// ExecIDSharded computes exec_id = (tick << Shift) | local_seq inside
	// the engine itself; local_seq resets every tick.
	ExecIDSharded ExecIDMode = iota
	// ExecIDCentralized defers assignment to the dispatcher's monotonic
	// global counter, merged in the stable order of §4.6.
	ExecIDCentralized
)

// RiskMode selects the admission determinism mode of §4.7.
type RiskMode uint8

const (
	// RiskModeSnapshot is the system default: the engine reads the
	// reservation snapshot installed in its riskclient.View. Engine
	// snapshots do not include that reservation snapshot.
	RiskModeSnapshot RiskMode = iota
	// RiskModeAdmissionVerdict names the recorded-verdict mode. The engine
	// does not read RiskMode: admission always consults the riskclient.View,
	// no verdict stream is replayed, and nothing checks the mode on restore,
	// so cross-mode replay is not refused.
	RiskModeAdmissionVerdict
)

// BandKind selects how the reference-price band of §4.1 step 5 is computed.
type BandKind uint8

const (
	BandAbsolute BandKind = iota
	BandBasisPoints
)

// PriceDomain is the (floor, ceil, tick) ladder of §3.
type PriceDomain struct {
	Floor uint64 `validate:"gte=0"`
	Ceil  uint64 `validate:"gtefield=Floor"`
	Tick  uint64 `validate:"gt=0"`
}

// Validate re-checks the invariant that the spec requires beyond what
// struct tags alone express: (ceil-floor) mod tick == 0.
func (d PriceDomain) Validate() error {
	if d.Ceil < d.Floor {
		return fmt.Errorf("config: ceil %d < floor %d", d.Ceil, d.Floor)
	}
	if d.Tick == 0 {
		return fmt.Errorf("config: tick must be > 0")
	}
	if (d.Ceil-d.Floor)%d.Tick != 0 {
		return fmt.Errorf("config: (ceil-floor) %% tick != 0 (floor=%d ceil=%d tick=%d)", d.Floor, d.Ceil, d.Tick)
	}
	return nil
}

// LadderSize returns the dense array length (ceil-floor)/tick + 1.
func (d PriceDomain) LadderSize() uint64 {
	return (d.Ceil-d.Floor)/d.Tick + 1
}

// Index returns the ladder index of a price, and whether it is valid.
func (d PriceDomain) Index(price uint64) (uint64, bool) {
	if price < d.Floor || price > d.Ceil {
		return 0, false
	}
	off := price - d.Floor
	if off%d.Tick != 0 {
		return 0, false
	}
	return off / d.Tick, true
}

// Band bounds an admitted price against a reference price (§4.1 step 5).
type Band struct {
	Kind BandKind
	// Absolute: max |price-reference| in ladder units.
	// BasisPoints: max relative deviation in bps (1bp = 0.01%).
	Value uint64 `validate:"gte=0"`
}

// Within reports whether price is inside [reference-band, reference+band].
func (b Band) Within(price, reference uint64) bool {
	var delta uint64
	switch b.Kind {
	case BandAbsolute:
		delta = b.Value
	case BandBasisPoints:
		delta = reference * b.Value / 10000
	}
	if price > reference {
		return price-reference <= delta
	}
	return reference-price <= delta
}

// SymbolConfig is frozen for the lifetime of a run (spec §6).
type SymbolConfig struct {
	SymbolID   uint32 `validate:"required"`
	SymbolName string `validate:"required"`

	PriceDomain PriceDomain `validate:"required"`
	Band        Band

	BatchMax       int `validate:"gt=0"`
	ArenaCapacity  int `validate:"gt=0"`
	IndexCapacity  int `validate:"gt=0"` // power of two, OrderIndex table size
	IngressRingCap int `validate:"gt=0"` // power of two

	ExecIDMode      ExecIDMode
	ExecIDTickShift uint // S in exec_id = (T<<S)|local_seq

	SelfMatchPolicy        int `validate:"gte=0,lte=2"`
	AllowMarketColdStart   bool
	TombstoneRebuildRatio  float64 `validate:"gte=0,lte=1"`
	MaintenanceBudgetTicks int     `validate:"gte=0"`

	RiskMode RiskMode

	SchemaVersion string `validate:"required"`
}

var validate = validator.New()

// Load validates a SymbolConfig and its price-domain invariant, returning a
// wrapped error on the first failure (fail-fast, matching the engine's own
// admission discipline).
func Load(cfg SymbolConfig) (SymbolConfig, error) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SchemaVersion.String()
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("config: validation failed: %w", err)
	}
	if err := cfg.PriceDomain.Validate(); err != nil {
		return cfg, err
	}
	v, err := semver.NewVersion(cfg.SchemaVersion)
	if err != nil {
		return cfg, fmt.Errorf("config: bad schema version %q: %w", cfg.SchemaVersion, err)
	}
	if v.Major() != SchemaVersion.Major() {
		return cfg, fmt.Errorf("config: schema major version %d incompatible with running %d", v.Major(), SchemaVersion.Major())
	}
	return cfg, nil
}
