package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ardanlabs/conf"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/go-playground/validator.v9"

	"github.com/openmdoc/mdoc-service/pkg/storage"
)

const (
	DefaultConfigPath = "config/dev.toml"
	DefaultEnvPath    = "config/.env"
	Filename          = "dev.toml"
	ExtensionTOML     = ".toml"

	EnvironmentDev  Environment = "dev"
	EnvironmentTest Environment = "test"
	EnvironmentProd Environment = "prod"

	ConfigPath EnvVar = "CONFIG_PATH"

	DefaultServiceEndpoint  = "http://localhost:8080"
	DefaultCredentialIssuer = "https://issuer.example.com"

	// DefaultConfigurationID is both the OpenID4VCI credential configuration id and the mDL doc type.
	DefaultConfigurationID = "org.iso.18013.5.1.mDL"
	DefaultDocType         = "org.iso.18013.5.1.mDL"
	MDLNameSpace           = "org.iso.18013.5.1"

	DefaultCodeTTL        = 300 * time.Second
	DefaultAccessTokenTTL = 600 * time.Second
	DefaultNonceTTL       = 180 * time.Second
	DefaultSweepInterval  = 30 * time.Second

	DefaultCredentialValidity = 365 * 24 * time.Hour
	DefaultSaltSize           = 32
)

type (
	Environment string
	EnvVar      string
)

func (e EnvVar) String() string {
	return string(e)
}

type MDocServiceConfig struct {
	conf.Version
	Server   ServerConfig   `toml:"server"`
	Services ServicesConfig `toml:"services"`
}

// ServerConfig represents configurable properties for the HTTP server
type ServerConfig struct {
	Environment        Environment   `toml:"env" conf:"default:dev"`
	APIHost            string        `toml:"api_host" conf:"default:0.0.0.0:8080"`
	JagerHost          string        `toml:"jager_host" conf:"default:http://jaeger:14268/api/traces"`
	JagerEnabled       bool          `toml:"jager_enabled" conf:"default:false"`
	ReadTimeout        time.Duration `toml:"read_timeout" conf:"default:5s"`
	WriteTimeout       time.Duration `toml:"write_timeout" conf:"default:5s"`
	ShutdownTimeout    time.Duration `toml:"shutdown_timeout" conf:"default:5s"`
	LogLocation        string        `toml:"log_location" conf:"default:log"`
	LogLevel           string        `toml:"log_level" conf:"default:debug"`
	EnableAllowAllCORS bool          `toml:"enable_allow_all_cors" conf:"default:false"`
}

// ServicesConfig represents configurable properties for the components of the mdoc service
type ServicesConfig struct {
	// a single storage provider holds all transaction state
	StorageProvider    string           `toml:"storage" validate:"required"`
	StorageOptions     []storage.Option `toml:"storage_option"`
	EnableEncryption   bool             `toml:"enable_encryption"`
	EncryptionKey      string           `toml:"encryption_key" conf:"noprint"`
	EnableStoreTracing bool             `toml:"enable_store_tracing"`
	ServiceEndpoint    string           `toml:"service_endpoint"`

	IssuerConfig      IssuerServiceConfig      `toml:"issuer"`
	TransactionConfig TransactionServiceConfig `toml:"transaction"`
}

func (s ServicesConfig) EncryptionEnabled() bool {
	return s.EnableEncryption
}

func (s ServicesConfig) GetEncryptionKey() string {
	return s.EncryptionKey
}

// BaseServiceConfig represents configurable properties for a specific component of the mdoc service
// Can be wrapped and extended for any specific service config
type BaseServiceConfig struct {
	Name            string `toml:"name"`
	ServiceEndpoint string `toml:"service_endpoint"`
}

// ClaimConfig is one element the issuer places in every credential it signs, in declaration order.
type ClaimConfig struct {
	NameSpace   string `toml:"namespace" validate:"required"`
	Identifier  string `toml:"identifier" validate:"required"`
	DisplayName string `toml:"display_name"`
	Mandatory   bool   `toml:"mandatory"`
	Value       any    `toml:"value"`
}

type IssuerServiceConfig struct {
	*BaseServiceConfig
	// CredentialIssuer is the issuer identity. It is the audience of proof JWTs.
	CredentialIssuer string `toml:"credential_issuer" validate:"required,url"`
	ConfigurationID  string `toml:"configuration_id" validate:"required"`
	DocType          string `toml:"doc_type" validate:"required"`
	DisplayName      string `toml:"display_name"`
	// SigningKeyJWK is a private P-256 JWK. SigningKeyFile is read when it is empty, and a
	// fresh key is generated when both are empty.
	SigningKeyJWK         string        `toml:"signing_key_jwk" conf:"noprint"`
	SigningKeyFile        string        `toml:"signing_key_file"`
	CertificateCommonName string        `toml:"certificate_common_name"`
	CredentialValidity    time.Duration `toml:"credential_validity"`
	SaltSize              int           `toml:"salt_size" validate:"omitempty,min=16"`
	Claims                []ClaimConfig `toml:"claims" validate:"dive"`
}

type TransactionServiceConfig struct {
	*BaseServiceConfig
	CodeTTL        time.Duration `toml:"code_ttl"`
	AccessTokenTTL time.Duration `toml:"access_token_ttl"`
	NonceTTL       time.Duration `toml:"nonce_ttl"`
	SweepInterval  time.Duration `toml:"sweep_interval"`
}

// DefaultClaims is the sample mDL subject.
func DefaultClaims() []ClaimConfig {
	return []ClaimConfig{
		{NameSpace: MDLNameSpace, Identifier: "given_name", DisplayName: "Given Name", Mandatory: true, Value: "Erika"},
		{NameSpace: MDLNameSpace, Identifier: "family_name", DisplayName: "Family Name", Mandatory: true, Value: "Mustermann"},
		{NameSpace: MDLNameSpace, Identifier: "birth_date", DisplayName: "Date of Birth", Mandatory: true, Value: "1990-01-01"},
	}
}

// LoadConfig attempts to load a TOML config file from the given path, and coerce it into our object model.
// Before loading, defaults are applied on certain properties, which are overwritten if specified in the TOML file.
func LoadConfig(path string) (*MDocServiceConfig, error) {
	return LoadConfigWithArgs(path, nil)
}

// LoadConfigWithArgs is LoadConfig with command line arguments applied over the defaults. It returns
// nil, nil when the arguments only asked for usage or version output.
func LoadConfigWithArgs(path string, args []string) (*MDocServiceConfig, error) {
	loadDefaultConfig, err := checkValidConfigPath(path)
	if err != nil {
		return nil, errors.Wrap(err, "validate config path")
	}

	loadEnvFile(DefaultEnvPath)

	var config MDocServiceConfig
	printed, err := parseConfig(&config, args)
	if err != nil {
		return nil, errors.Wrap(err, "parse and apply defaults")
	}
	if printed {
		return nil, nil
	}

	if loadDefaultConfig {
		config.Services = defaultServicesConfig()
	} else if err = loadTOMLConfig(path, &config); err != nil {
		return nil, errors.Wrap(err, "load toml config")
	}
	applyDefaults(&config.Services)

	if err = validator.New().Struct(config.Services); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	if !storage.IsStorageAvailable(storage.Type(config.Services.StorageProvider)) {
		return nil, fmt.Errorf("unsupported storage provider: %s", config.Services.StorageProvider)
	}
	return &config, nil
}

// loadEnvFile exports the variables of an optional .env file. Variables already set in the
// environment win.
func loadEnvFile(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		logrus.WithError(err).Warnf("could not load env file: %s", path)
	}
}

func checkValidConfigPath(path string) (bool, error) {
	defaultConfig := false
	if path == "" {
		logrus.Info("no config path provided, loading default config...")
		defaultConfig = true
	} else if filepath.Ext(path) != ExtensionTOML {
		return false, fmt.Errorf("path<%s> did not match the expected TOML format", path)
	}
	return defaultConfig, nil
}

func parseConfig(cfg *MDocServiceConfig, args []string) (bool, error) {
	if err := conf.Parse(args, ServiceName, cfg); err != nil {
		switch {
		case errors.Is(err, conf.ErrHelpWanted):
			usage, err := conf.Usage(ServiceName, cfg)
			if err != nil {
				return false, errors.Wrap(err, "parsing config")
			}
			fmt.Println(usage)
			return true, nil
		case errors.Is(err, conf.ErrVersionWanted):
			version, err := conf.VersionString(ServiceName, cfg)
			if err != nil {
				return false, errors.Wrap(err, "generating config version")
			}
			fmt.Println(version)
			return true, nil
		}
		return false, errors.Wrap(err, "parsing config")
	}
	return false, nil
}

func loadTOMLConfig(path string, config *MDocServiceConfig) error {
	if _, err := toml.DecodeFile(path, config); err != nil {
		return errors.Wrapf(err, "could not load config: %s", path)
	}
	return nil
}

func defaultServicesConfig() ServicesConfig {
	return ServicesConfig{
		StorageProvider: string(storage.Memory),
		ServiceEndpoint: DefaultServiceEndpoint,
		IssuerConfig: IssuerServiceConfig{
			BaseServiceConfig:     &BaseServiceConfig{Name: "issuer"},
			CredentialIssuer:      DefaultCredentialIssuer,
			ConfigurationID:       DefaultConfigurationID,
			DocType:               DefaultDocType,
			DisplayName:           "Mobile Driving Licence",
			CertificateCommonName: "Demo DS (not for prod)",
			Claims:                DefaultClaims(),
		},
		TransactionConfig: TransactionServiceConfig{
			BaseServiceConfig: &BaseServiceConfig{Name: "transaction"},
		},
	}
}

func applyDefaults(services *ServicesConfig) {
	if services.ServiceEndpoint == "" {
		services.ServiceEndpoint = DefaultServiceEndpoint
	}

	issuer := &services.IssuerConfig
	if issuer.BaseServiceConfig == nil {
		issuer.BaseServiceConfig = &BaseServiceConfig{Name: "issuer"}
	}
	if issuer.ServiceEndpoint == "" {
		issuer.ServiceEndpoint = services.ServiceEndpoint
	}
	if issuer.CredentialIssuer == "" {
		issuer.CredentialIssuer = issuer.ServiceEndpoint
	}
	if issuer.ConfigurationID == "" {
		issuer.ConfigurationID = DefaultConfigurationID
	}
	if issuer.DocType == "" {
		issuer.DocType = DefaultDocType
	}
	if issuer.CredentialValidity == 0 {
		issuer.CredentialValidity = DefaultCredentialValidity
	}
	if issuer.SaltSize == 0 {
		issuer.SaltSize = DefaultSaltSize
	}
	if len(issuer.Claims) == 0 {
		issuer.Claims = DefaultClaims()
	}

	transaction := &services.TransactionConfig
	if transaction.BaseServiceConfig == nil {
		transaction.BaseServiceConfig = &BaseServiceConfig{Name: "transaction"}
	}
	if transaction.CodeTTL == 0 {
		transaction.CodeTTL = DefaultCodeTTL
	}
	if transaction.AccessTokenTTL == 0 {
		transaction.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if transaction.NonceTTL == 0 {
		transaction.NonceTTL = DefaultNonceTTL
	}
	if transaction.SweepInterval == 0 {
		transaction.SweepInterval = DefaultSweepInterval
	}
}
