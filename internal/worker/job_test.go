package worker

import "testing"

func TestJobStatus(t *testing.T) {
	tests := []struct {
		name   string
		status JobStatus
		want   string
	}{
		{"success status", JobStatusSuccess, "success"},
		{"failure status", JobStatusFailure, "failure"},
		{"retry status", JobStatusRetry, "retry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.status) != tt.want {
				t.Errorf("JobStatus = %v, want %v", tt.status, tt.want)
			}
		})
	}
}

func TestJobResultRetryable(t *testing.T) {
	tests := []struct {
		name   string
		result *JobResult
		want   bool
	}{
		{"nil result", nil, false},
		{"success", &JobResult{Status: JobStatusSuccess}, false},
		{"failure", &JobResult{Status: JobStatusFailure}, false},
		{"retry", &JobResult{Status: JobStatusRetry}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
