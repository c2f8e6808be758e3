package disruptor

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config describes a Disruptor topology declaratively:
//
//	capacity: 1024
//	wait_strategy: blocking
//	producer_mode: multi
//	stages:
//	  - name: journal
//	  - name: replicate
//	  - name: business
//	    depends_on: [journal, replicate]
//
// A stage without depends_on waits only for the producer.
type Config struct {
	Capacity     int           `yaml:"capacity"`
	WaitStrategy string        `yaml:"wait_strategy"`
	ProducerMode string        `yaml:"producer_mode"`
	Stages       []StageConfig `yaml:"stages"`
}

// StageConfig is one consumer stage and the stages it waits behind.
type StageConfig struct {
	Name      string   `yaml:"name"`
	DependsOn []string `yaml:"depends_on"`
}

// LoadConfig decodes a YAML Config, rejecting unknown fields, fills in
// defaults (blocking, single) and validates it.
func LoadConfig(r io.Reader) (Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.WaitStrategy == "" {
		cfg.WaitStrategy = Blocking
	}
	if cfg.ProducerMode == "" {
		cfg.ProducerMode = SingleProducer.String()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the capacity, the strategy and mode names and the stage
// graph: unique names, known dependencies, no cycles.
func (c Config) Validate() error {
	if c.Capacity <= 0 || c.Capacity&(c.Capacity-1) != 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidCapacity, c.Capacity)
	}
	if _, err := c.options(); err != nil {
		return err
	}
	_, err := c.stageOrder()
	return err
}

func (c Config) options() ([]Option, error) {
	wsName, modeName := c.WaitStrategy, c.ProducerMode
	if wsName == "" {
		wsName = Blocking
	}
	if modeName == "" {
		modeName = SingleProducer.String()
	}
	ws, err := ParseWaitStrategy(wsName)
	if err != nil {
		return nil, err
	}
	mode, err := ParseProducerMode(modeName)
	if err != nil {
		return nil, err
	}
	return []Option{WithWaitStrategy(ws), WithProducerMode(mode)}, nil
}

// stageOrder returns the stages so that every stage follows all of its
// dependencies, keeping declaration order among independent stages.
func (c Config) stageOrder() ([]StageConfig, error) {
	index := make(map[string]int, len(c.Stages))
	for i, s := range c.Stages {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: stage %d has no name", ErrUnknownStage, i)
		}
		if _, dup := index[s.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateStage, s.Name)
		}
		index[s.Name] = i
	}

	pending := make([]int, len(c.Stages))
	dependents := make([][]int, len(c.Stages))
	for i, s := range c.Stages {
		for _, dep := range s.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("%w: %q depends on %q", ErrUnknownStage, s.Name, dep)
			}
			pending[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	order := make([]StageConfig, 0, len(c.Stages))
	done := make([]bool, len(c.Stages))
	for progressed := true; progressed; {
		progressed = false
		for i, s := range c.Stages {
			if done[i] || pending[i] > 0 {
				continue
			}
			done[i] = true
			progressed = true
			order = append(order, s)
			for _, j := range dependents[i] {
				pending[j]--
			}
		}
	}

	if len(order) != len(c.Stages) {
		var stuck []string
		for i, s := range c.Stages {
			if !done[i] {
				stuck = append(stuck, s.Name)
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(stuck, ", "))
	}
	return order, nil
}

// NewFromConfig builds a Disruptor from cfg, binding each stage to the
// handler registered under its name. opts are applied after the options
// derived from cfg, so they take precedence.
func NewFromConfig[E any](cfg Config, handlers map[string]Handler[E], opts ...Option) (*Disruptor[E], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	order, err := cfg.stageOrder()
	if err != nil {
		return nil, err
	}
	for _, s := range order {
		if handlers[s.Name] == nil {
			return nil, fmt.Errorf("%w: stage %q", ErrMissingHandler, s.Name)
		}
	}
	for name := range handlers {
		if !slices.ContainsFunc(order, func(s StageConfig) bool { return s.Name == name }) {
			return nil, fmt.Errorf("%w: handler %q has no stage", ErrUnknownStage, name)
		}
	}

	cfgOpts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	d, err := New[E](cfg.Capacity, append(cfgOpts, opts...)...)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	seqs := make(map[string]*Sequence, len(order))
	for _, s := range order {
		deps := make([]*Sequence, len(s.DependsOn))
		for i, dep := range s.DependsOn {
			deps[i] = seqs[dep]
		}
		seqs[s.Name] = d.addConsumerLocked(s.Name, deps, handlers[s.Name])
	}
	return d, nil
}
