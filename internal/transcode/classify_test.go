package transcode

import "testing"

func TestClassifyHardwareError(t *testing.T) {
	c := Classify("Error initializing output stream: [hevc_nvenc] OpenEncodeSessionEx failed")
	if c.Category != CategoryHardware {
		t.Fatalf("expected hardware category, got %v", c.Category)
	}
	if ShouldRetry(c, 0, 3) {
		t.Fatal("hardware errors should never retry")
	}
	if !ShouldFallbackToSoftware(c) {
		t.Fatal("hardware errors should trigger a software fallback")
	}
}

func TestClassifyFatalError(t *testing.T) {
	c := Classify("moov atom not found")
	if c.Category != CategoryFatal {
		t.Fatalf("expected fatal category, got %v", c.Category)
	}
	if ShouldRetry(c, 0, 5) {
		t.Fatal("fatal errors should never retry")
	}
}

func TestClassifyTransientErrorRetriesWithinLimit(t *testing.T) {
	c := Classify("Connection reset by peer")
	if c.Category != CategoryTransient {
		t.Fatalf("expected transient category, got %v", c.Category)
	}
	if !ShouldRetry(c, 0, 3) {
		t.Fatal("expected retry within limit")
	}
	if ShouldRetry(c, 3, 3) {
		t.Fatal("expected no retry once attempts exhausted")
	}
}

func TestClassifyNonRetryableTransient(t *testing.T) {
	c := Classify("HTTP error 404 Not Found")
	if c.Category != CategoryTransient {
		t.Fatalf("expected transient category, got %v", c.Category)
	}
	if ShouldRetry(c, 0, 3) {
		t.Fatal("404 responses should not be retried")
	}
}

func TestClassifyUnknownGetsAtMostOneRetry(t *testing.T) {
	c := Classify("some completely novel ffmpeg message")
	if c.Category != CategoryUnknown {
		t.Fatalf("expected unknown category, got %v", c.Category)
	}
	if !ShouldRetry(c, 0, 5) {
		t.Fatal("expected exactly one retry for unknown errors")
	}
	if ShouldRetry(c, 1, 5) {
		t.Fatal("expected no second retry for unknown errors")
	}
}

func TestClassifyResourceError(t *testing.T) {
	c := Classify("Cannot allocate memory")
	if c.Category != CategoryResource {
		t.Fatalf("expected resource category, got %v", c.Category)
	}
	if !ShouldRetry(c, 0, 2) {
		t.Fatal("allocation failures should be retryable")
	}

	fatal := Classify("No space left on device")
	if fatal.Category != CategoryResource {
		t.Fatalf("expected resource category, got %v", fatal.Category)
	}
	if ShouldRetry(fatal, 0, 2) {
		t.Fatal("disk-full should not be retried")
	}
}
