package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/spf13/viper"
	"github.com/vulpemventures/go-elements/network"

	"github.com/liquidtools/walletd/pkg/securestore"
)

const (
	// DatadirKey is the local data directory to store the wallet state
	DatadirKey = "DATADIR"
	// LogLevelKey are the different logging levels. For reference on the values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// NetworkKey is the network the wallet operates on, either liquid, testnet or regtest
	NetworkKey = "NETWORK"
	// GapLimitKey is the number of consecutive unused addresses probed past the last used one during discovery
	GapLimitKey = "GAP_LIMIT"
	// SyncIntervalKey is the time in seconds between two sync rounds
	SyncIntervalKey = "SYNC_INTERVAL"
	// CallTimeoutKey is the timeout in seconds applied to every single server call
	CallTimeoutKey = "ELECTRUM_CALL_TIMEOUT"
	// MaxParallelKey bounds the number of concurrent server calls while fetching
	MaxParallelKey = "MAX_PARALLEL_REQUESTS"
	// RequestsPerSecondKey caps the request rate towards the server
	RequestsPerSecondKey = "REQUESTS_PER_SECOND"
	// MillisatsPerByteKey is the fee rate used when building transactions
	MillisatsPerByteKey = "MILLISATS_PER_BYTE"
	// ScryptNKey is the CPU/memory cost parameter of the passphrase KDF
	ScryptNKey = "SCRYPT_N"
	// ScryptRKey is the block size parameter of the passphrase KDF
	ScryptRKey = "SCRYPT_R"
	// ScryptPKey is the parallelization parameter of the passphrase KDF
	ScryptPKey = "SCRYPT_P"

	// WalletLocation is the subdirectory of the datadir holding the sealed
	// wallet file.
	WalletLocation = "wallet"
	// WalletFilename is the name of the sealed wallet file.
	WalletFilename = "wallet.sealed"
)

var vip *viper.Viper
var defaultDatadir = btcutil.AppDataDir("walletd", false)

func InitConfig() error {
	vip = viper.New()
	vip.SetEnvPrefix("WALLETD")
	vip.AutomaticEnv()

	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(NetworkKey, network.Liquid.Name)
	vip.SetDefault(GapLimitKey, 20)
	vip.SetDefault(SyncIntervalKey, 60)
	vip.SetDefault(CallTimeoutKey, 10)
	vip.SetDefault(MaxParallelKey, 8)
	vip.SetDefault(RequestsPerSecondKey, 50)
	vip.SetDefault(MillisatsPerByteKey, 100)
	vip.SetDefault(ScryptNKey, securestore.DefaultScryptParams.N)
	vip.SetDefault(ScryptRKey, securestore.DefaultScryptParams.R)
	vip.SetDefault(ScryptPKey, securestore.DefaultScryptParams.P)

	if err := validate(); err != nil {
		return fmt.Errorf("error while validating config: %s", err)
	}

	if err := initDatadir(); err != nil {
		return fmt.Errorf("error while creating datadir: %s", err)
	}

	return nil
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

func GetDuration(key string) time.Duration {
	return vip.GetDuration(key)
}

func GetBool(key string) bool {
	return vip.GetBool(key)
}

func GetDatadir() string {
	return GetString(DatadirKey)
}

// GetNetwork returns the network params matching the NETWORK setting.
func GetNetwork() *network.Network {
	switch GetString(NetworkKey) {
	case network.Liquid.Name:
		return &network.Liquid
	case network.Testnet.Name:
		return &network.Testnet
	case network.Regtest.Name:
		return &network.Regtest
	default:
		return nil
	}
}

// GetScryptParams returns the KDF parameters used to seal the wallet file.
func GetScryptParams() securestore.ScryptParams {
	return securestore.ScryptParams{
		N: GetInt(ScryptNKey),
		R: GetInt(ScryptRKey),
		P: GetInt(ScryptPKey),
	}
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("missing datadir")
	}

	if GetNetwork() == nil {
		return fmt.Errorf(
			"%s must be one of '%s', '%s', '%s'",
			NetworkKey, network.Liquid.Name, network.Testnet.Name,
			network.Regtest.Name,
		)
	}

	if GetInt(GapLimitKey) <= 0 {
		return fmt.Errorf("%s must be a positive number", GapLimitKey)
	}

	if GetInt(MillisatsPerByteKey) < 100 {
		return fmt.Errorf("%s must be equal or greater than 100", MillisatsPerByteKey)
	}

	if err := GetScryptParams().Validate(); err != nil {
		return fmt.Errorf("invalid KDF params: %s", err)
	}

	return nil
}

func initDatadir() error {
	datadir := GetDatadir()
	return makeDirectoryIfNotExists(filepath.Join(datadir, WalletLocation))
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
