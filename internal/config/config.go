package config

import (
	"fmt"
	"log/slog"
	"net"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/sunbk201/rulegate/internal/common"
)

type RuleType string

const (
	RuleTypeDomain        RuleType = "DOMAIN"
	RuleTypeDomainSuffix  RuleType = "DOMAIN-SUFFIX"
	RuleTypeDomainKeyword RuleType = "DOMAIN-KEYWORD"
	RuleTypeURLRegex      RuleType = "URL-REGEX"
	RuleTypeHeaderKeyword RuleType = "HEADER-KEYWORD"
	RuleTypeHeaderRegex   RuleType = "HEADER-REGEX"
	RuleTypeBodyKeyword   RuleType = "BODY-KEYWORD"
	RuleTypeBodyRegex     RuleType = "BODY-REGEX"
	RuleTypeDestPort      RuleType = "DEST-PORT"
	RuleTypeSrcIP         RuleType = "SRC-IP"
	RuleTypeIPCIDR        RuleType = "IP-CIDR"
	RuleTypeMethod        RuleType = "METHOD"
	RuleTypeFinal         RuleType = "FINAL"
)

// IsBody reports whether rules of this type inspect the captured body.
func (t RuleType) IsBody() bool {
	return t == RuleTypeBodyKeyword || t == RuleTypeBodyRegex
}

type Config struct {
	BindAddress string `mapstructure:"bind-address" yaml:"bind-address" validate:"required,ip"`
	Port        int    `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
	LogLevel    string `mapstructure:"log-level" yaml:"log-level" validate:"oneof=debug info warn error"`

	APIServer       string  `mapstructure:"api-server" yaml:"api-server" validate:"omitempty,hostname_port"`
	APIServerSecret string  `mapstructure:"api-server-secret" yaml:"api-server-secret,omitempty"`
	APIRateLimit    float64 `mapstructure:"api-rate-limit" yaml:"api-rate-limit,omitempty" validate:"min=0"`

	DialTimeout time.Duration `mapstructure:"dial-timeout" yaml:"dial-timeout" validate:"min=0"`
	IdleTimeout time.Duration `mapstructure:"idle-timeout" yaml:"idle-timeout" validate:"min=0"`

	// RulesDir anchors relative rulesFile directives.
	RulesDir string `mapstructure:"rules-dir" yaml:"rules-dir,omitempty"`
	// RulesHeader names the request header carrying header-scoped rules.
	RulesHeader string `mapstructure:"rules-header" yaml:"rules-header" validate:"required"`

	Rules     []Rule `mapstructure:"rules" yaml:"rules" validate:"dive"`
	RulesJSON string `mapstructure:"rules-json" yaml:"-"`

	Plugins []Plugin `mapstructure:"plugins" yaml:"plugins,omitempty" validate:"unique=Name,dive"`

	Statistics bool `mapstructure:"statistics" yaml:"statistics"`
}

// Rule is one configured directive. The first rule of each directive kind
// whose matcher accepts a request wins.
type Rule struct {
	Type        RuleType `mapstructure:"type" yaml:"type" json:"type" toml:"type" validate:"required,oneof=DOMAIN DOMAIN-SUFFIX DOMAIN-KEYWORD URL-REGEX HEADER-KEYWORD HEADER-REGEX BODY-KEYWORD BODY-REGEX DEST-PORT SRC-IP IP-CIDR METHOD FINAL"`
	MatchHeader string   `mapstructure:"match-header" yaml:"match-header,omitempty" json:"match-header,omitempty" toml:"match-header,omitempty" validate:"required_if=Type HEADER-KEYWORD,required_if=Type HEADER-REGEX"`
	MatchValue  string   `mapstructure:"match-value" yaml:"match-value,omitempty" json:"match-value,omitempty" toml:"match-value,omitempty" validate:"required_unless=Type FINAL"`
	// MatchURL narrows body rules to requests whose URL matches.
	MatchURL  string `mapstructure:"match-url" yaml:"match-url,omitempty" json:"match-url,omitempty" toml:"match-url,omitempty"`
	Directive string `mapstructure:"directive" yaml:"directive" json:"directive" toml:"directive" validate:"required,directive"`
	Value     string `mapstructure:"value" yaml:"value" json:"value" toml:"value" validate:"required"`
	Disabled  bool   `mapstructure:"disabled" yaml:"disabled,omitempty" json:"disabled,omitempty" toml:"disabled,omitempty"`
}

func (r *Rule) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(r.Type)),
		slog.String("match_header", r.MatchHeader),
		slog.String("match_value", r.MatchValue),
		slog.String("directive", r.Directive),
		slog.String("value", r.Value),
	)
}

// Plugin configures one built-in plugin instance.
type Plugin struct {
	Name  string `mapstructure:"name" yaml:"name" validate:"required"`
	Rules []Rule `mapstructure:"rules" yaml:"rules,omitempty" validate:"dive"`
	Pipe  *Pipe  `mapstructure:"pipe" yaml:"pipe,omitempty"`
}

// Pipe configures the body rewrite a plugin performs on its pipe sockets.
type Pipe struct {
	Directions []string `mapstructure:"directions" yaml:"directions" validate:"required,dive,oneof=reqRead reqWrite resRead resWrite"`
	Regex      string   `mapstructure:"regex" yaml:"regex" validate:"required"`
	Replace    string   `mapstructure:"replace" yaml:"replace"`
}

func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.BindAddress, fmt.Sprint(c.Port))
}

func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("Listen Address", c.ListenAddr()),
		slog.String("Log Level", c.LogLevel),
		slog.String("API Server", c.APIServer),
		slog.String("Rules Header", c.RulesHeader),
		slog.Int("Rules", len(c.Rules)),
		slog.Int("Plugins", len(c.Plugins)),
	)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("directive", func(fl validator.FieldLevel) bool {
		return common.ValidKind(fl.Field().String())
	})
	return v
}

// ValidateRule checks a single rule the same way a config file is checked.
func ValidateRule(r *Rule) error {
	return validate.Struct(r)
}

// BuildConfigFromViper decodes the merged flag, env and file settings and
// validates the result.
func BuildConfigFromViper() (*Config, error) {
	var cfg Config
	err := viper.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		upperRuleTypeHook(),
	)))
	if err != nil {
		return nil, fmt.Errorf("viper.Unmarshal: %w", err)
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.RulesHeader = strings.ToLower(strings.TrimSpace(cfg.RulesHeader))

	if cfg.RulesJSON != "" {
		rules, err := ParseRules([]byte(cfg.RulesJSON))
		if err != nil {
			return nil, fmt.Errorf("config.ParseRules: %w", err)
		}
		cfg.Rules = append(cfg.Rules, rules...)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate.Struct: %w", err)
	}
	return &cfg, nil
}

// ParseRules decodes a JSON or YAML list of rules.
func ParseRules(data []byte) ([]Rule, error) {
	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("yaml.Unmarshal: %w", err)
	}
	for i := range rules {
		rules[i].Type = RuleType(strings.ToUpper(string(rules[i].Type)))
	}
	return rules, nil
}

// ParseRulesTOML decodes rules written as [[rules]] tables.
func ParseRulesTOML(data []byte) ([]Rule, error) {
	var doc struct {
		Rules []Rule `toml:"rules"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("toml.Unmarshal: %w", err)
	}
	for i := range doc.Rules {
		doc.Rules[i].Type = RuleType(strings.ToUpper(string(doc.Rules[i].Type)))
	}
	return doc.Rules, nil
}

func upperRuleTypeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(RuleType("")) {
			return data, nil
		}
		return strings.ToUpper(strings.TrimSpace(reflect.ValueOf(data).String())), nil
	}
}

// SetDefaults registers the default value of every setting.
func SetDefaults() {
	viper.SetDefault("bind-address", "127.0.0.1")
	viper.SetDefault("port", 8899)
	viper.SetDefault("log-level", "info")
	viper.SetDefault("dial-timeout", "10s")
	viper.SetDefault("idle-timeout", "90s")
	viper.SetDefault("rules-header", "x-rulegate-rules")
}
