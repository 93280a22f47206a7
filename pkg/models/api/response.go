package api

import "time"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string      `json:"status"`
	Engine       string      `json:"engine"`
	Timestamp    time.Time   `json:"timestamp"`
	NextFireTime *time.Time  `json:"next_fire_time,omitempty"`
	Database     interface{} `json:"database,omitempty"`
}

// ScheduleRequest carries a schedule change
type ScheduleRequest struct {
	Cron    string `json:"cron"`
	Misfire string `json:"misfire,omitempty"`
}

// ScheduleResponse describes the job's current schedule
type ScheduleResponse struct {
	JobName         string     `json:"job_name"`
	Description     string     `json:"description,omitempty"`
	TriggerIdentity string     `json:"trigger_identity"`
	Cron            string     `json:"cron"`
	Misfire         string     `json:"misfire"`
	Registered      bool       `json:"registered"`
	Paused          bool       `json:"paused"`
	Shutdown        bool       `json:"shutdown"`
	NextFireTime    *time.Time `json:"next_fire_time,omitempty"`
}

// RunResponse represents a job run in API responses
type RunResponse struct {
	ID              string    `json:"id"`
	JobName         string    `json:"job_name"`
	TriggerIdentity string    `json:"trigger_identity"`
	Source          string    `json:"source"`
	StartedAt       time.Time `json:"started_at"`
	DurationMS      int64     `json:"duration_ms"`
	Error           string    `json:"error,omitempty"`
}

// Response represents a general API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
	Message string      `json:"message,omitempty"`
}
