package logingest_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stampwise/stampwise/internal/device"
	"github.com/stampwise/stampwise/internal/logingest"
)

type stubDevices struct {
	devices []*device.Device
	err     error
}

func (s *stubDevices) ListAll(context.Context) ([]*device.Device, error) {
	return s.devices, s.err
}

type stubFlags struct {
	samplingOnly bool
}

func (f *stubFlags) IsLogIngestSamplingOnly(context.Context) bool { return f.samplingOnly }

type failingRepo struct{}

func (failingRepo) Insert(context.Context, []*logingest.Record) error {
	return errors.New("database down")
}

func newService(repo logingest.Repository, devices *stubDevices, flags *stubFlags) *logingest.Service {
	if devices == nil {
		devices = &stubDevices{}
	}
	if flags == nil {
		flags = &stubFlags{}
	}
	return logingest.NewService(logingest.ServiceConfig{
		Repository: repo,
		Devices:    devices,
		Flags:      flags,
		Logger:     zerolog.Nop(),
	})
}

func TestIngest_StoresClassifiedRecords(t *testing.T) {
	repo := logingest.NewInMemoryRepository()
	svc := newService(repo, nil, nil)

	result := svc.Ingest(context.Background(), []string{
		"Invalid signature for pass.io.stampwise.loyalty",
		"Server certificate verification failed",
		"manifest.json did not match bundle contents",
		"Could not decode strip image",
		"Something completely different",
	}, "Passbook/9.0 CFNetwork/1410 Darwin/22.6.0")

	assert.Equal(t, 5, result.Received)
	assert.Equal(t, 5, result.Stored)

	patterns := map[logingest.Pattern]int{}
	for _, rec := range repo.All() {
		patterns[rec.Pattern]++
	}
	assert.Equal(t, 1, patterns[logingest.PatternSignature])
	assert.Equal(t, 1, patterns[logingest.PatternCertificate])
	assert.Equal(t, 1, patterns[logingest.PatternManifest])
	assert.Equal(t, 1, patterns[logingest.PatternImage])
	assert.Equal(t, 1, patterns[logingest.PatternOther])
}

func TestIngest_NeverFails(t *testing.T) {
	svc := newService(failingRepo{}, nil, nil)

	result := svc.Ingest(context.Background(), []string{"anything"}, "")
	assert.Equal(t, 1, result.Received)
	assert.Zero(t, result.Stored, "storage failure reported as zero stored, not an error")
}

func TestIngest_EmptySubmission(t *testing.T) {
	repo := logingest.NewInMemoryRepository()
	svc := newService(repo, nil, nil)

	result := svc.Ingest(context.Background(), nil, "ua")
	assert.Zero(t, result.Received)
	assert.Zero(t, result.Stored)
	assert.Empty(t, repo.All())
}

func TestIngest_DeviceCorrelation(t *testing.T) {
	repo := logingest.NewInMemoryRepository()
	devices := &stubDevices{devices: []*device.Device{
		{ID: "dev_1", Info: device.Info{UserAgent: "Passbook/9.0 Darwin/22.6.0"}},
		{ID: "dev_2", Info: device.Info{UserAgent: "Passbook/8.0 Darwin/21.0.0"}},
	}}
	svc := newService(repo, devices, nil)

	svc.Ingest(context.Background(), []string{"bad signature"}, "Passbook/8.0 Darwin/21.0.0")

	records := repo.All()
	require.Len(t, records, 1)
	require.NotNil(t, records[0].DeviceID)
	assert.Equal(t, "dev_2", *records[0].DeviceID)
}

func TestIngest_NoCorrelationForUnknownAgent(t *testing.T) {
	repo := logingest.NewInMemoryRepository()
	devices := &stubDevices{devices: []*device.Device{
		{ID: "dev_1", Info: device.Info{UserAgent: "Passbook/9.0"}},
	}}
	svc := newService(repo, devices, nil)

	svc.Ingest(context.Background(), []string{"whatever"}, "SomeBot/1.0")

	records := repo.All()
	require.Len(t, records, 1)
	assert.Nil(t, records[0].DeviceID)
}

func TestIngest_SamplingOnlyStoresFraction(t *testing.T) {
	repo := logingest.NewInMemoryRepository()
	flags := &stubFlags{samplingOnly: true}
	svc := newService(repo, nil, flags)

	total := 0
	for i := 0; i < 5; i++ {
		lines := make([]string, 20)
		for j := range lines {
			lines[j] = fmt.Sprintf("line %d-%d", i, j)
		}
		result := svc.Ingest(context.Background(), lines, "ua")
		total += result.Stored
	}

	assert.Equal(t, 10, total, "one line in ten survives sampling")
	assert.Len(t, repo.All(), 10)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		line string
		want logingest.Pattern
	}{
		{"Invalid SIGNATURE found", logingest.PatternSignature},
		{"untrusted certificate chain", logingest.PatternCertificate},
		{"Manifest hash mismatch", logingest.PatternManifest},
		{"icon.png missing from bundle", logingest.PatternImage},
		{"logo@2x.png corrupted", logingest.PatternImage},
		{"timeout contacting server", logingest.PatternOther},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, logingest.Classify(tt.line))
		})
	}
}

func TestIngest_RecordsTimestamp(t *testing.T) {
	repo := logingest.NewInMemoryRepository()
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := logingest.NewService(logingest.ServiceConfig{
		Repository: repo,
		Devices:    &stubDevices{},
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return fixed },
	})

	svc.Ingest(context.Background(), []string{"x"}, "")

	records := repo.All()
	require.Len(t, records, 1)
	assert.Equal(t, fixed, records[0].ReceivedAt)
}
