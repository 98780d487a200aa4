package main

import (
	"io"
	"log"

	"github.com/open-source-firmware/go-cdda/pkg/drive"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

type metricCollector struct {
	m []prometheus.Metric
}

func (mc *metricCollector) Collect(c chan<- prometheus.Metric) {
	for _, m := range mc.m {
		c <- m
	}
}

func (mc *metricCollector) Describe(c chan<- *prometheus.Desc) {
}

var (
	mDriveInfo = prometheus.NewDesc(
		"cdda_drive_info",
		"Info metric regarding the opened drive",
		[]string{"device", "model", "interface", "byte_order"}, nil,
	)
	mTracks = prometheus.NewDesc(
		"cdda_disc_tracks",
		"Number of tracks on the disc, split by kind",
		[]string{"device", "kind"}, nil,
	)
	mAudioSectors = prometheus.NewDesc(
		"cdda_disc_audio_sectors",
		"Number of sectors in the audio tracks of the disc",
		[]string{"device"}, nil,
	)
	mSectorsPerRead = prometheus.NewDesc(
		"cdda_drive_sectors_per_read",
		"Largest number of frames transferred by a single read",
		[]string{"device"}, nil,
	)
)

func driveMetrics(d *drive.Drive) *metricCollector {
	mc := &metricCollector{}
	dev := d.Device()
	mc.m = append(mc.m,
		prometheus.MustNewConstMetric(mDriveInfo, prometheus.GaugeValue, 1,
			dev, d.Model(), d.Interface().String(), d.ByteOrder().String()),
		prometheus.MustNewConstMetric(mSectorsPerRead, prometheus.GaugeValue, float64(d.NSectors()), dev))

	toc := d.TOC()
	audio := toc.AudioTracks()
	mc.m = append(mc.m,
		prometheus.MustNewConstMetric(mTracks, prometheus.GaugeValue, float64(len(audio)), dev, "audio"),
		prometheus.MustNewConstMetric(mTracks, prometheus.GaugeValue, float64(toc.Tracks()-len(audio)), dev, "data"))

	sectors := 0
	for _, n := range audio {
		first, err1 := toc.FirstSector(n)
		last, err2 := toc.LastSector(n)
		if err1 != nil || err2 != nil {
			continue
		}
		sectors += last - first + 1
	}
	mc.m = append(mc.m, prometheus.MustNewConstMetric(mAudioSectors, prometheus.GaugeValue, float64(sectors), dev))
	return mc
}

func outputMetrics(w io.Writer, d *drive.Drive, m *drive.Metrics) {
	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(driveMetrics(d), m)

	mfs, err := reg.Gather()
	if err != nil {
		log.Fatalf("Failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			log.Fatalf("Failed to serialize metrics: %v", err)
		}
	}
}
