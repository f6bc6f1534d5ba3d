package sink

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/ssds-ingest/internal/packet"
)

type stubSink struct {
	name   string
	err    error
	writes int
}

func (s *stubSink) Write(context.Context, packet.DevicePacket) error {
	s.writes++
	return s.err
}

func (s *stubSink) Name() string { return s.name }

type anonymousSink struct{ err error }

func (s anonymousSink) Write(context.Context, packet.DevicePacket) error { return s.err }

type stubWriter struct {
	got []packet.DevicePacket
	err error
}

func (w *stubWriter) WritePacket(_ context.Context, p packet.DevicePacket) error {
	w.got = append(w.got, p)
	return w.err
}

func TestFanout(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		sinks     func() (Fanout, []*stubSink)
		wantErr   bool
		wantInErr []string
	}{
		{
			name: "all succeed",
			sinks: func() (Fanout, []*stubSink) {
				a, b := &stubSink{name: "a"}, &stubSink{name: "b"}
				return Fanout{a, b}, []*stubSink{a, b}
			},
		},
		{
			name: "first fails, second still written",
			sinks: func() (Fanout, []*stubSink) {
				a, b := &stubSink{name: "archive", err: boom}, &stubSink{name: "influxdb"}
				return Fanout{a, b}, []*stubSink{a, b}
			},
			wantErr:   true,
			wantInErr: []string{"archive: boom"},
		},
		{
			name: "unnamed sink",
			sinks: func() (Fanout, []*stubSink) {
				a := &stubSink{name: "a"}
				return Fanout{a, anonymousSink{err: boom}}, []*stubSink{a}
			},
			wantErr:   true,
			wantInErr: []string{"sink[1]: boom"},
		},
		{
			name: "empty",
			sinks: func() (Fanout, []*stubSink) {
				return Fanout{}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, stubs := tt.sinks()
			err := f.Write(context.Background(), packet.DevicePacket{SourceID: 1})

			if (err != nil) != tt.wantErr {
				t.Fatalf("Write() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, boom) {
				t.Errorf("Write() error = %v, want wrapping %v", err, boom)
			}
			for _, s := range tt.wantInErr {
				if !strings.Contains(err.Error(), s) {
					t.Errorf("error %q missing %q", err, s)
				}
			}
			for _, s := range stubs {
				if s.writes != 1 {
					t.Errorf("sink %s written %d times, want 1", s.name, s.writes)
				}
			}
		})
	}
}

func TestInflux(t *testing.T) {
	w := &stubWriter{}
	s := NewInflux(w)
	p := packet.DevicePacket{SourceID: 101, SequenceNumber: 200}

	if err := s.Write(context.Background(), p); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if len(w.got) != 1 || !w.got[0].Equal(p) {
		t.Errorf("writer got %v, want [%v]", w.got, p)
	}

	w.err = errors.New("influx down")
	if err := s.Write(context.Background(), p); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("Write() error = %v, want ErrWriteFailed", err)
	}
	if s.Name() != "influxdb" {
		t.Errorf("Name() = %q", s.Name())
	}
}
