// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"testing"

	"github.com/open-source-firmware/go-cdda/pkg/drive/sgio/sgiotest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	require.NoError(t, prometheus.NewPedanticRegistry().Register(m))

	f := sgiotest.New()
	d := openFake(t, f, WithMetrics(m))
	f.Fail = func(_, _, sectors int) error {
		if sectors > 8 {
			return mediumError()
		}
		return nil
	}

	p := make([]byte, 27*FrameSize)
	n, err := d.ReadAudio(p, 0, 27)
	require.NoError(t, err)
	require.Equal(t, 6, n)

	f.Fail = func(int, int, int) error { return mediumError() }
	_, err = d.ReadAudio(p, 200, 1)
	require.Error(t, err)

	labels := []string{"/dev/fake", "sgio"}
	assert.Equal(t, 6.0, testutil.ToFloat64(m.sectors.WithLabelValues(labels...)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.resets.WithLabelValues(labels...)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sectorErrors.WithLabelValues(labels...)))
	// two in the first read, nine in the second
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.retries.WithLabelValues(labels...)), 11.0)
	assert.Equal(t, 1, testutil.CollectAndCount(m, "cdda_read_duration_seconds"))
}

func TestMetricsNil(t *testing.T) {
	var m *Metrics
	d := newDrive("/dev/null", Test, nil)
	m.observe(d, 1)
	m.sectorsRead(d, 1)
	m.retry(d)
	m.busReset(d)
	m.sectorError(d)
}
