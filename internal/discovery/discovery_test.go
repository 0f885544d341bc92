package discovery

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingHandler struct {
	mu    sync.Mutex
	added []ServiceInfo
}

func (h *recordingHandler) ServiceAdded(_ context.Context, info ServiceInfo) {
	h.mu.Lock()
	h.added = append(h.added, info)
	h.mu.Unlock()
}

func (h *recordingHandler) ServiceUpdated(context.Context, ServiceInfo, ServiceInfo) {}
func (h *recordingHandler) ServiceRemoved(context.Context, ServiceInfo)              {}

func (h *recordingHandler) announcements() []ServiceInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ServiceInfo, len(h.added))
	copy(out, h.added)
	return out
}

func TestServiceInfo_Identity(t *testing.T) {
	tests := []struct {
		name string
		info ServiceInfo
		want string
	}{
		{
			name: "model and serial",
			info: ServiceInfo{Name: "cam-1", Properties: map[string]string{"model": "LL-300", "serial": "0001"}},
			want: "LL-300_0001",
		},
		{
			name: "whitespace trimmed",
			info: ServiceInfo{Name: "cam-1", Properties: map[string]string{"model": " LL-300 ", "serial": " 0001 "}},
			want: "LL-300_0001",
		},
		{
			name: "missing serial falls back to name",
			info: ServiceInfo{Name: "cam-1", Properties: map[string]string{"model": "LL-300"}},
			want: "cam-1",
		},
		{
			name: "no properties falls back to name",
			info: ServiceInfo{Name: "cam-1"},
			want: "cam-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.Identity(); got != tt.want {
				t.Errorf("Identity() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStaticBrowser_AnnouncesAllEntries(t *testing.T) {
	browser := NewStaticBrowser([]StaticCamera{
		{Name: "stage-left", Host: "10.0.0.20", Port: 80, Model: "LL-300", Serial: "0001"},
		{Name: "stage-right", Host: "10.0.0.21", Port: 80, Model: "LL-300", Serial: "0002"},
	}, 0)

	handler := &recordingHandler{}
	if err := browser.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	browser.Stop()

	got := handler.announcements()
	if len(got) != 2 {
		t.Fatalf("announced %d cameras, want 2", len(got))
	}
	if got[0].Identity() != "LL-300_0001" || got[1].Identity() != "LL-300_0002" {
		t.Errorf("identities = %q, %q", got[0].Identity(), got[1].Identity())
	}
	if got[0].Host != "10.0.0.20" || got[0].Port != 80 {
		t.Errorf("first announcement = %+v", got[0])
	}
}

func TestStaticBrowser_DoubleStart(t *testing.T) {
	browser := NewStaticBrowser(nil, 0)
	handler := &recordingHandler{}

	if err := browser.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer browser.Stop()

	if err := browser.Start(context.Background(), handler); err == nil {
		t.Fatal("second Start() should fail")
	}
}

func TestStaticBrowser_StopBeforeDelay(t *testing.T) {
	browser := NewStaticBrowser([]StaticCamera{
		{Name: "stage-left", Host: "10.0.0.20", Port: 80},
	}, time.Hour)

	handler := &recordingHandler{}
	if err := browser.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	browser.Stop()

	if got := handler.announcements(); len(got) != 0 {
		t.Errorf("announced %d cameras before delay elapsed, want 0", len(got))
	}

	// Stop again is a no-op.
	browser.Stop()
}
