package cmd

import (
	"time"

	"github.com/foomo/cloudbackup/pkg/backup"
	"github.com/foomo/cloudbackup/pkg/drive"
	"github.com/foomo/cloudbackup/pkg/store"
	"github.com/foomo/cloudbackup/pkg/watch"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func logLevelFlag(v *viper.Viper) string {
	return v.GetString("log.level")
}

func addLogLevelFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("log-level", "info", "log level")
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindEnv("log.level", "LOG_LEVEL")
}

func logFormatFlag(v *viper.Viper) string {
	return v.GetString("log.format")
}

func addLogFormatFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("log-format", "console", "log format")
	_ = v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = v.BindEnv("log.format", "LOG_FORMAT")
}

// ------------------------------------------------------------------------------------------------
// ~ Remote
// ------------------------------------------------------------------------------------------------

func accessTokenFlag(v *viper.Viper) string {
	return v.GetString("auth.access_token")
}

func addAccessTokenFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("access-token", "", "Static bearer token")
	_ = v.BindPFlag("auth.access_token", flags.Lookup("access-token"))
	_ = v.BindEnv("auth.access_token", "CLOUDBACKUP_ACCESS_TOKEN")
}

func refreshTokenFlag(v *viper.Viper) string {
	return v.GetString("auth.refresh_token")
}

func addRefreshTokenFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("refresh-token", "", "OAuth2 refresh token, used instead of a static access token")
	_ = v.BindPFlag("auth.refresh_token", flags.Lookup("refresh-token"))
	_ = v.BindEnv("auth.refresh_token", "CLOUDBACKUP_REFRESH_TOKEN")
}

func clientIDFlag(v *viper.Viper) string {
	return v.GetString("auth.client_id")
}

func addClientIDFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("client-id", "", "OAuth2 client id")
	_ = v.BindPFlag("auth.client_id", flags.Lookup("client-id"))
	_ = v.BindEnv("auth.client_id", "CLOUDBACKUP_CLIENT_ID")
}

func clientSecretFlag(v *viper.Viper) string {
	return v.GetString("auth.client_secret")
}

func addClientSecretFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("client-secret", "", "OAuth2 client secret")
	_ = v.BindPFlag("auth.client_secret", flags.Lookup("client-secret"))
	_ = v.BindEnv("auth.client_secret", "CLOUDBACKUP_CLIENT_SECRET")
}

func tokenURLFlag(v *viper.Viper) string {
	return v.GetString("auth.token_url")
}

func addTokenURLFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("token-url", "https://oauth2.googleapis.com/token", "OAuth2 token endpoint")
	_ = v.BindPFlag("auth.token_url", flags.Lookup("token-url"))
	_ = v.BindEnv("auth.token_url", "CLOUDBACKUP_TOKEN_URL")
}

func appPrefixFlag(v *viper.Viper) string {
	return v.GetString("app.prefix")
}

func addAppPrefixFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("app-prefix", "", "Application prefix of the container and snapshot names")
	_ = v.BindPFlag("app.prefix", flags.Lookup("app-prefix"))
	_ = v.BindEnv("app.prefix", "CLOUDBACKUP_APP_PREFIX")
}

func probeLimitFlag(v *viper.Viper) int {
	return v.GetInt("probe_limit")
}

func addProbeLimitFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Int("probe-limit", backup.DefaultProbeLimit, "Number of duplicate containers to inspect")
	_ = v.BindPFlag("probe_limit", flags.Lookup("probe-limit"))
	_ = v.BindEnv("probe_limit", "CLOUDBACKUP_PROBE_LIMIT")
}

func retentionFlag(v *viper.Viper) int {
	return v.GetInt("retention")
}

func addRetentionFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Int("retention", 0, "Number of snapshots to keep, 0 keeps all")
	_ = v.BindPFlag("retention", flags.Lookup("retention"))
	_ = v.BindEnv("retention", "CLOUDBACKUP_RETENTION")
}

func parentFlag(v *viper.Viper) string {
	return v.GetString("parent")
}

func addParentFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("parent", "", "Id of the folder holding the container")
	_ = v.BindPFlag("parent", flags.Lookup("parent"))
	_ = v.BindEnv("parent", "CLOUDBACKUP_PARENT")
}

func apiURLFlag(v *viper.Viper) string {
	return v.GetString("api.url")
}

func addAPIURLFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("api-url", drive.DefaultBaseURL, "Base url of the files api")
	_ = v.BindPFlag("api.url", flags.Lookup("api-url"))
	_ = v.BindEnv("api.url", "CLOUDBACKUP_API_URL")
}

func uploadURLFlag(v *viper.Viper) string {
	return v.GetString("api.upload_url")
}

func addUploadURLFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("upload-url", drive.DefaultUploadURL, "Base url of the upload api")
	_ = v.BindPFlag("api.upload_url", flags.Lookup("upload-url"))
	_ = v.BindEnv("api.upload_url", "CLOUDBACKUP_UPLOAD_URL")
}

func timeoutFlag(v *viper.Viper) time.Duration {
	return v.GetDuration("api.timeout")
}

func addTimeoutFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Duration("timeout", 30*time.Second, "Timeout of a single api request")
	_ = v.BindPFlag("api.timeout", flags.Lookup("timeout"))
	_ = v.BindEnv("api.timeout", "CLOUDBACKUP_TIMEOUT")
}

// addRemoteFlags adds everything needed to talk to the remote
func addRemoteFlags(flags *pflag.FlagSet, v *viper.Viper) {
	addAccessTokenFlag(flags, v)
	addRefreshTokenFlag(flags, v)
	addClientIDFlag(flags, v)
	addClientSecretFlag(flags, v)
	addTokenURLFlag(flags, v)
	addAPIURLFlag(flags, v)
	addUploadURLFlag(flags, v)
	addTimeoutFlag(flags, v)
}

// addSyncFlags adds the remote flags plus the container settings
func addSyncFlags(flags *pflag.FlagSet, v *viper.Viper) {
	addRemoteFlags(flags, v)
	addAppPrefixFlag(flags, v)
	addProbeLimitFlag(flags, v)
	addRetentionFlag(flags, v)
	addParentFlag(flags, v)
}

// ------------------------------------------------------------------------------------------------
// ~ Storage
// ------------------------------------------------------------------------------------------------

func storageTypeFlag(v *viper.Viper) string {
	return v.GetString("storage.type")
}

func addStorageTypeFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("storage-type", store.TypeFilesystem, "Local storage backend: filesystem or blob")
	_ = v.BindPFlag("storage.type", flags.Lookup("storage-type"))
	_ = v.BindEnv("storage.type", "CLOUDBACKUP_STORAGE_TYPE")
}

func storageDirFlag(v *viper.Viper) string {
	return v.GetString("storage.dir")
}

func addStorageDirFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("storage-dir", "/var/lib/cloudbackup", "Directory of the filesystem storage")
	_ = v.BindPFlag("storage.dir", flags.Lookup("storage-dir"))
	_ = v.BindEnv("storage.dir", "CLOUDBACKUP_STORAGE_DIR")
}

func storageBlobBucketFlag(v *viper.Viper) string {
	return v.GetString("storage.blob.bucket")
}

func addStorageBlobBucketFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("storage-blob-bucket", "", "Bucket url of the blob storage (gs://, s3://, azblob://, file://)")
	_ = v.BindPFlag("storage.blob.bucket", flags.Lookup("storage-blob-bucket"))
	_ = v.BindEnv("storage.blob.bucket", "CLOUDBACKUP_STORAGE_BLOB_BUCKET")
}

func storageBlobPrefixFlag(v *viper.Viper) string {
	return v.GetString("storage.blob.prefix")
}

func addStorageBlobPrefixFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("storage-blob-prefix", "", "Key prefix within the blob bucket")
	_ = v.BindPFlag("storage.blob.prefix", flags.Lookup("storage-blob-prefix"))
	_ = v.BindEnv("storage.blob.prefix", "CLOUDBACKUP_STORAGE_BLOB_PREFIX")
}

func historyLimitFlag(v *viper.Viper) int {
	return v.GetInt("history.limit")
}

func addHistoryLimitFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Int("history-limit", store.DefaultHistoryLimit, "Number of local state versions to keep")
	_ = v.BindPFlag("history.limit", flags.Lookup("history-limit"))
	_ = v.BindEnv("history.limit", "CLOUDBACKUP_HISTORY_LIMIT")
}

func addStorageFlags(flags *pflag.FlagSet, v *viper.Viper) {
	addStorageTypeFlag(flags, v)
	addStorageDirFlag(flags, v)
	addStorageBlobBucketFlag(flags, v)
	addStorageBlobPrefixFlag(flags, v)
	addHistoryLimitFlag(flags, v)
}

// ------------------------------------------------------------------------------------------------
// ~ Watch
// ------------------------------------------------------------------------------------------------

func intervalFlag(v *viper.Viper) time.Duration {
	return v.GetDuration("watch.interval")
}

func addIntervalFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Duration("interval", watch.DefaultInterval, "Interval between pushes of the local state")
	_ = v.BindPFlag("watch.interval", flags.Lookup("interval"))
	_ = v.BindEnv("watch.interval", "CLOUDBACKUP_INTERVAL")
}

func restoreFlag(v *viper.Viper) bool {
	return v.GetBool("watch.restore")
}

func addRestoreFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("restore", true, "Pull the remote state on start when there is no local state")
	_ = v.BindPFlag("watch.restore", flags.Lookup("restore"))
	_ = v.BindEnv("watch.restore", "CLOUDBACKUP_RESTORE")
}

func gracefulPeriodFlag(v *viper.Viper) time.Duration {
	return v.GetDuration("graceful_period")
}

func addGracefulPeriodFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Duration("graceful-period", 0, "Graceful period before shutdown")
	_ = v.BindPFlag("graceful_period", flags.Lookup("graceful-period"))
	_ = v.BindEnv("graceful_period", "CLOUDBACKUP_GRACEFUL_PERIOD")
}

func serviceHealthzEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("service.healthz.enabled")
}

func addServiceHealthzEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("service-healthz-enabled", false, "Enable healthz service")
	_ = v.BindPFlag("service.healthz.enabled", flags.Lookup("service-healthz-enabled"))
}

func servicePrometheusEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("service.prometheus.enabled")
}

func addServicePrometheusEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("service-prometheus-enabled", false, "Enable prometheus service")
	_ = v.BindPFlag("service.prometheus.enabled", flags.Lookup("service-prometheus-enabled"))
}

func otelEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("otel.enabled")
}

func addOtelEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("otel-enabled", false, "Enable otel service")
	_ = v.BindPFlag("otel.enabled", flags.Lookup("otel-enabled"))
	_ = v.BindEnv("otel.enabled", "OTEL_ENABLED")
}
