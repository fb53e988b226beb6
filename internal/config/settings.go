package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/bitrepository/reference-sub015/internal/conversation"
	"github.com/bitrepository/reference-sub015/internal/model"
)

// EnvPrefix prefixes environment variables overriding settings. A double
// underscore separates levels, e.g. BITREPO_CLIENT__OPERATION_TIMEOUT.
const EnvPrefix = "BITREPO_"

var (
	// ErrInvalidSettings is returned when repository settings fail validation.
	ErrInvalidSettings = errors.New("invalid settings")

	// ErrUnknownCollection is returned for a collection missing from the settings.
	ErrUnknownCollection = errors.New("unknown collection")
)

// Settings describe the repository a client talks to.
type Settings struct {
	Client      ClientSettings                `koanf:"client"`
	Collections map[string]CollectionSettings `koanf:"collections"`
	Operations  map[string]OperationSettings  `koanf:"operations"`
}

// ClientSettings hold the conversation timing of a client.
type ClientSettings struct {
	IdentificationTimeout time.Duration `koanf:"identification_timeout"`
	OperationTimeout      time.Duration `koanf:"operation_timeout"`
	ConversationTimeout   time.Duration `koanf:"conversation_timeout"`
	CleanupInterval       time.Duration `koanf:"cleanup_interval"`
}

// CollectionSettings name the broadcast destination and the contributors of
// one collection.
type CollectionSettings struct {
	Destination  string   `koanf:"destination"`
	Contributors []string `koanf:"contributors"`
}

// OperationSettings override the default behaviour of one operation type.
type OperationSettings struct {
	Selection               string        `koanf:"selection"`
	IdentifyTimeout         string        `koanf:"identify_timeout"`
	PartialSuccessOnTimeout *bool         `koanf:"partial_success_on_timeout"`
	FailOnComponentFailure  *bool         `koanf:"fail_on_component_failure"`
	IdentificationTimeout   time.Duration `koanf:"identification_timeout"`
	OperationTimeout        time.Duration `koanf:"operation_timeout"`
}

var defaultSettings = map[string]interface{}{
	"client.identification_timeout": "10s",
	"client.operation_timeout":       "5m",
	"client.conversation_timeout":    "1h",
	"client.cleanup_interval":        "1m",
}

// LoadSettings layers defaults, the TOML file at path (if path is set) and
// BITREPO_ environment variables, then validates the result.
func LoadSettings(path string) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultSettings, "."), nil); err != nil {
		return nil, fmt.Errorf("error loading default settings: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading settings file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("error loading settings from environment: %w", err)
	}

	var settings Settings
	if err := k.Unmarshal("", &settings); err != nil {
		return nil, fmt.Errorf("error unmarshalling settings: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

// Validate checks the settings for problems that would only surface once an
// operation is started.
func (s *Settings) Validate() error {
	var problems []string

	if s.Client.IdentificationTimeout <= 0 {
		problems = append(problems, "client.identification_timeout must be positive")
	}
	if s.Client.OperationTimeout <= 0 {
		problems = append(problems, "client.operation_timeout must be positive")
	}
	if s.Client.ConversationTimeout < 0 {
		problems = append(problems, "client.conversation_timeout must not be negative")
	}

	if len(s.Collections) == 0 {
		problems = append(problems, "no collections configured")
	}
	for _, id := range s.CollectionIDs() {
		c := s.Collections[id]
		if c.Destination == "" {
			problems = append(problems, fmt.Sprintf("collection %s has no destination", id))
		}
		if len(c.Contributors) == 0 {
			problems = append(problems, fmt.Sprintf("collection %s has no contributors", id))
		}
		for _, contributor := range c.Contributors {
			if strings.TrimSpace(contributor) == "" {
				problems = append(problems, fmt.Sprintf("collection %s has an empty contributor id", id))
			}
		}
	}

	for key, o := range s.Operations {
		if _, err := model.ParseOperationType(key); err != nil {
			problems = append(problems, fmt.Sprintf("operations.%s: %v", key, err))
			continue
		}
		if o.Selection != "" {
			if _, err := conversation.ParseSelectionPolicy(o.Selection); err != nil {
				problems = append(problems, fmt.Sprintf("operations.%s: %v", key, err))
			}
		}
		if o.IdentifyTimeout != "" {
			if _, err := conversation.ParseIdentifyTimeoutPolicy(o.IdentifyTimeout); err != nil {
				problems = append(problems, fmt.Sprintf("operations.%s: %v", key, err))
			}
		}
		if o.IdentificationTimeout < 0 || o.OperationTimeout < 0 {
			problems = append(problems, fmt.Sprintf("operations.%s: timeouts must not be negative", key))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(problems, "; "))
	}
	return nil
}

// CollectionIDs returns the configured collection ids in sorted order.
func (s *Settings) CollectionIDs() []string {
	ids := make([]string, 0, len(s.Collections))
	for id := range s.Collections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Collection returns a copy of one collection's settings.
func (s *Settings) Collection(id string) (CollectionSettings, error) {
	c, ok := s.Collections[id]
	if !ok {
		return CollectionSettings{}, fmt.Errorf("%w: %s", ErrUnknownCollection, id)
	}
	c.Contributors = append([]string(nil), c.Contributors...)
	return c, nil
}

func (s *Settings) operation(op model.OperationType) (OperationSettings, bool) {
	for key, o := range s.Operations {
		if parsed, err := model.ParseOperationType(key); err == nil && parsed == op {
			return o, true
		}
	}
	return OperationSettings{}, false
}

// Strategy returns the default strategy of op with the configured overrides applied.
func (s *Settings) Strategy(op model.OperationType) (conversation.Strategy, error) {
	strategy, err := conversation.StrategyFor(op)
	if err != nil {
		return conversation.Strategy{}, err
	}
	o, ok := s.operation(op)
	if !ok {
		return strategy, nil
	}

	if o.Selection != "" {
		if strategy.Selection, err = conversation.ParseSelectionPolicy(o.Selection); err != nil {
			return conversation.Strategy{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
	}
	if o.IdentifyTimeout != "" {
		if strategy.IdentifyTimeout, err = conversation.ParseIdentifyTimeoutPolicy(o.IdentifyTimeout); err != nil {
			return conversation.Strategy{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
	}
	if o.PartialSuccessOnTimeout != nil {
		strategy.PartialSuccessOnTimeout = *o.PartialSuccessOnTimeout
	}
	if o.FailOnComponentFailure != nil {
		strategy.FailOnComponentFailure = *o.FailOnComponentFailure
	}
	return strategy, nil
}

// Timeouts returns the identification and operation timeouts of op.
func (s *Settings) Timeouts(op model.OperationType) (identification, operation time.Duration) {
	identification, operation = s.Client.IdentificationTimeout, s.Client.OperationTimeout
	if o, ok := s.operation(op); ok {
		if o.IdentificationTimeout > 0 {
			identification = o.IdentificationTimeout
		}
		if o.OperationTimeout > 0 {
			operation = o.OperationTimeout
		}
	}
	return identification, operation
}
