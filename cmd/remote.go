package cmd

import (
	"context"

	"github.com/foomo/cloudbackup/pkg/backup"
	"github.com/foomo/cloudbackup/pkg/drive"
	"github.com/foomo/cloudbackup/pkg/store"
	keelhttp "github.com/foomo/keel/net/http"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// newClient creates the files api client from the remote flags.
func newClient(ctx context.Context, v *viper.Viper, l *zap.Logger) (*drive.Client, error) {
	httpClient := keelhttp.NewHTTPClient(
		keelhttp.HTTPClientWithTimeout(timeoutFlag(v)),
		keelhttp.HTTPClientWithTelemetry(),
	)

	opts := []drive.Option{
		drive.WithHTTPClient(httpClient),
		drive.WithBaseURL(apiURLFlag(v)),
		drive.WithUploadURL(uploadURLFlag(v)),
		drive.WithUserAgent("cloudbackup/" + version),
	}

	switch {
	case refreshTokenFlag(v) != "":
		conf := &oauth2.Config{
			ClientID:     clientIDFlag(v),
			ClientSecret: clientSecretFlag(v),
			Endpoint: oauth2.Endpoint{
				TokenURL: tokenURLFlag(v),
			},
		}
		// the token source refreshes through the same client
		tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, httpClient)
		opts = append(opts, drive.WithTokenSource(conf.TokenSource(tokenCtx, &oauth2.Token{
			RefreshToken: refreshTokenFlag(v),
		})))
	case accessTokenFlag(v) != "":
		opts = append(opts, drive.WithAccessToken(accessTokenFlag(v)))
	default:
		return nil, errors.New("either an access token or a refresh token is required")
	}

	return drive.New(l, opts...), nil
}

// newSyncer creates the syncer from the sync flags.
func newSyncer(ctx context.Context, v *viper.Viper, l *zap.Logger) (*backup.Syncer, error) {
	if appPrefixFlag(v) == "" {
		return nil, errors.New("app prefix is required")
	}
	client, err := newClient(ctx, v, l)
	if err != nil {
		return nil, err
	}
	return backup.NewSyncer(l, client, appPrefixFlag(v),
		backup.WithProbeLimit(probeLimitFlag(v)),
		backup.WithRetention(retentionFlag(v)),
		backup.WithParent(parentFlag(v)),
		backup.WithPhaseObserver(func(p backup.Phase) {
			l.Debug("write phase", zap.String("phase", string(p)))
		}),
	), nil
}

// newHistory opens the local state history from the storage flags.
func newHistory(ctx context.Context, v *viper.Viper, l *zap.Logger) (*store.History, error) {
	storage, err := store.Open(ctx, l, store.Config{
		Type:       storageTypeFlag(v),
		Dir:        storageDirFlag(v),
		BlobBucket: storageBlobBucketFlag(v),
		BlobPrefix: storageBlobPrefixFlag(v),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create storage")
	}

	prefix := store.DefaultHistoryPrefix
	if p := appPrefixFlag(v); p != "" {
		prefix = p + "-state-"
	}
	return store.NewHistory(l,
		store.HistoryWithStorage(storage),
		store.HistoryWithPrefix(prefix),
		store.HistoryWithLimit(historyLimitFlag(v)),
	)
}
