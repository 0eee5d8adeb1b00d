package segment

import (
	"errors"
	"io"
	"testing"

	"gocv.io/x/gocv"
)

// fakeWorker answers each request on the pipe pair with reply(req).
func fakeWorker(t *testing.T, reply func(req inferRequest) inferResponse) (*SubprocessBackend, func()) {
	t.Helper()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer respW.Close()
		for {
			var req inferRequest
			if err := readMessage(reqR, &req); err != nil {
				return
			}
			if err := writeMessage(respW, reply(req)); err != nil {
				return
			}
		}
	}()

	b := newPipeBackend(reqW, respR)
	return b, func() {
		b.Close()
		reqR.Close()
		<-done
	}
}

func TestSubprocessBackend_Infer(t *testing.T) {
	var seen inferRequest
	b, stop := fakeWorker(t, func(req inferRequest) inferResponse {
		seen = req
		mask := make([]byte, 4*2)
		for i := range mask {
			mask[i] = 255
		}
		mask[0] = 0
		return inferResponse{Width: 4, Height: 2, Mask: mask}
	})
	defer stop()

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 20, 30, 0), 8, 8, gocv.MatTypeCV8UC3)
	defer frame.Close()

	prob, err := b.Infer(frame, PersonFast.Config())
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	defer prob.Close()

	if seen.Mode != "person_fast" || seen.Quality != "fast" || seen.Format != "png" {
		t.Errorf("request = %+v", seen)
	}
	if len(seen.Image) == 0 {
		t.Error("request carried no image")
	}
	if prob.Cols() != 4 || prob.Rows() != 2 {
		t.Fatalf("mask size = %dx%d, want 4x2", prob.Cols(), prob.Rows())
	}
	if v := prob.GetFloatAt(0, 0); v != 0 {
		t.Errorf("mask(0,0) = %v, want 0", v)
	}
	if v := prob.GetFloatAt(1, 3); v != 1 {
		t.Errorf("mask(3,1) = %v, want 1", v)
	}
}

func TestSubprocessBackend_Responses(t *testing.T) {
	tests := []struct {
		name      string
		resp      inferResponse
		wantEmpty bool
		wantErr   bool
	}{
		{name: "no subject", resp: inferResponse{}, wantEmpty: true},
		{name: "worker error", resp: inferResponse{Error: "out of memory"}, wantErr: true},
		{name: "short mask", resp: inferResponse{Width: 3, Height: 3, Mask: []byte{1, 2}}, wantErr: true},
	}

	frame := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
	defer frame.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, stop := fakeWorker(t, func(inferRequest) inferResponse { return tt.resp })
			defer stop()

			prob, err := b.Infer(frame, PersonBalanced.Config())
			defer prob.Close()

			if (err != nil) != tt.wantErr {
				t.Fatalf("Infer() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantEmpty && !prob.Empty() {
				t.Error("expected empty mask")
			}
		})
	}
}

func TestSubprocessBackend_BrokenPipe(t *testing.T) {
	tests := []struct {
		name   string
		worker func(reqR *io.PipeReader, respW *io.PipeWriter)
	}{
		{
			name: "write fails",
			worker: func(reqR *io.PipeReader, respW *io.PipeWriter) {
				reqR.Close()
			},
		},
		{
			name: "worker exits before replying",
			worker: func(reqR *io.PipeReader, respW *io.PipeWriter) {
				var req inferRequest
				readMessage(reqR, &req)
				respW.Close()
			},
		},
	}

	frame := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
	defer frame.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqR, reqW := io.Pipe()
			respR, respW := io.Pipe()
			defer reqR.Close()
			defer respW.Close()

			done := make(chan struct{})
			go func() {
				defer close(done)
				tt.worker(reqR, respW)
			}()

			b := newPipeBackend(reqW, respR)
			prob, err := b.Infer(frame, PersonBalanced.Config())
			prob.Close()
			<-done

			if err == nil {
				t.Fatal("Infer() error = nil, want pipe error")
			}
			if b.started || b.stdin != nil || b.stdout != nil {
				t.Errorf("worker still attached after pipe error: started=%v", b.started)
			}
			if _, err := reqW.Write([]byte{0}); !errors.Is(err, io.ErrClosedPipe) {
				t.Errorf("request pipe write error = %v, want %v", err, io.ErrClosedPipe)
			}
		})
	}
}

func TestSubprocessBackend_WorkerErrorKeepsWorker(t *testing.T) {
	b, stop := fakeWorker(t, func(inferRequest) inferResponse {
		return inferResponse{Error: "bad frame"}
	})
	defer stop()

	frame := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
	defer frame.Close()

	for i := 0; i < 2; i++ {
		prob, err := b.Infer(frame, PersonBalanced.Config())
		prob.Close()
		if err == nil {
			t.Fatalf("Infer() #%d error = nil", i)
		}
		if !b.started {
			t.Fatalf("worker detached after reported error #%d", i)
		}
	}
}

func TestSubprocessBackend_Engine(t *testing.T) {
	b, stop := fakeWorker(t, func(inferRequest) inferResponse {
		return inferResponse{Error: "model not loaded"}
	})
	defer stop()

	frame := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
	defer frame.Close()

	// worker failures are absorbed as empty results
	res := NewEngine(Config{Backend: b}).Segment(frame, PersonFast)
	if !res.Empty() {
		t.Error("expected empty result for worker error")
	}
}

func TestNewSubprocessBackend_MissingScript(t *testing.T) {
	_, err := NewSubprocessBackend(SubprocessConfig{Script: "/nonexistent/segmentation_service.py"})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("error = %v, want %v", err, ErrBackendUnavailable)
	}
}

func TestNewDNNBackend_MissingModel(t *testing.T) {
	_, err := NewDNNBackend(DNNConfig{Model: "/nonexistent/model.onnx"})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("error = %v, want %v", err, ErrBackendUnavailable)
	}
}
