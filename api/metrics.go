package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetbridge_tasks_created_total",
		Help: "Tasks created, by task type.",
	}, []string{"task_type"})

	tasksDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetbridge_tasks_delivered_total",
		Help: "Terminal tasks delivered to a GUI client and removed, by status.",
	}, []string{"status"})

	registrySize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "assetbridge_registry_tasks",
		Help: "Tasks currently held in the registry.",
	})
)
