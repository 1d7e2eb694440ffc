package models

import "testing"

func TestJobValidate(t *testing.T) {
	tests := []struct {
		name    string
		job     TransferJob
		wantErr bool
	}{
		{
			name: "upload file",
			job: TransferJob{ID: 1, Direction: Upload, EffectiveLocalPath: "/tmp/a",
				EffectiveRemotePath: "/srv/a"},
		},
		{
			name:    "upload without remote",
			job:     TransferJob{ID: 2, Direction: Upload, EffectiveLocalPath: "/tmp/a"},
			wantErr: true,
		},
		{
			name: "zip upload without source",
			job: TransferJob{ID: 3, Direction: Upload, ZipUpload: true,
				EffectiveRemotePath: "/srv/a.zip"},
			wantErr: true,
		},
		{
			name: "download file",
			job: TransferJob{ID: 4, Direction: Download, EffectiveLocalPath: "/tmp/a",
				EffectiveRemotePath: "/srv/a"},
		},
		{
			name:    "download without local",
			job:     TransferJob{ID: 5, Direction: Download, EffectiveRemotePath: "/srv/a"},
			wantErr: true,
		},
		{
			name:    "bad direction",
			job:     TransferJob{ID: 6, Direction: "SIDEWAYS"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDispatchable(t *testing.T) {
	file := TransferJob{Status: StatusQueued}
	if !file.Dispatchable() {
		t.Error("Expected queued file job to be dispatchable")
	}
	scanDir := TransferJob{Status: StatusQueued, IsDirectory: true}
	if scanDir.Dispatchable() {
		t.Error("Expected directory meta-job to never be dispatchable")
	}
	zipDir := TransferJob{Status: StatusQueued, IsDirectory: true, ZipUpload: true}
	if !zipDir.Dispatchable() {
		t.Error("Expected whole-directory zip job to be dispatchable")
	}
	running := TransferJob{Status: StatusInProgress}
	if running.Dispatchable() {
		t.Error("Expected running job to not be dispatchable")
	}
}

func TestApplyProgressMonotonic(t *testing.T) {
	job := TransferJob{Status: StatusInProgress}
	job.ApplyProgress(50, 200)
	if job.TotalSize != 200 {
		t.Errorf("Expected size to be learned from callback, got %d", job.TotalSize)
	}
	job.ApplyProgress(30, 200)
	if job.BytesTransferred != 50 {
		t.Errorf("Expected bytes to stay at 50, got %d", job.BytesTransferred)
	}
	if changed := job.ApplyProgress(100, 200); !changed {
		t.Error("Expected percent change to be reported")
	}
	if job.ProgressPercent != 50 {
		t.Errorf("Expected 50%%, got %d", job.ProgressPercent)
	}
}

func TestReopenResets(t *testing.T) {
	job := TransferJob{
		ID: 9, Direction: Download, Status: StatusFailed, ErrorMessage: "boom",
		TotalSize: 10, BytesTransferred: 7, ProgressPercent: 70,
	}
	if err := job.Reopen(StatusQueued); err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if job.ErrorMessage != "" || job.BytesTransferred != 0 || job.ProgressPercent != 0 || job.TotalSize != 0 {
		t.Errorf("Expected reset job, got %+v", job)
	}

	done := TransferJob{ID: 10, Status: StatusCompleted}
	if err := done.Reopen(StatusQueued); err == nil {
		t.Error("Expected completed job to refuse reopen")
	}
}

func TestPercent(t *testing.T) {
	if Percent(0, 0) != 0 {
		t.Error("Expected 0 for unknown total")
	}
	if Percent(250, 200) != 100 {
		t.Error("Expected percent to be capped at 100")
	}
	if Percent(1, 3) != 33 {
		t.Errorf("Expected 33, got %d", Percent(1, 3))
	}
}
