package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// maxRetainedSegments bounds the closed segments kept for Segments().
const maxRetainedSegments = 100

// Config contains configuration for the detector
type Config struct {
	Threshold        float32 // Voice decision threshold (0.0 - 1.0)
	Smoothing        float32 // Weight of the newest score (0.0 - 1.0], 1 disables smoothing
	MinSpeechFrames  int     // Consecutive voiced frames needed to open a segment
	MinSilenceFrames int     // Consecutive silent frames needed to close a segment
	FrameLength      int     // Samples per frame
	SampleRate       int     // Audio sample rate
}

// Detector applies smoothing, threshold and hysteresis to raw VAD scores.
type Detector struct {
	config Config

	// Decision state
	smoothed    float32
	inSpeech    bool
	speechRun   int
	silenceRun  int
	current     *Segment
	confidences float32 // sum over voiced frames of the current run
	confFrames  int

	// Statistics
	totalFrames   uint64
	voiceFrames   uint64
	segmentCount  uint64
	lastScore     float32
	lastProcessed time.Time
	segments      []Segment

	mu sync.RWMutex
}

// Result represents the decision for one frame
type Result struct {
	FrameIndex uint64   `json:"frame"`
	Score      float32  `json:"score"`      // Raw engine score, unclamped
	Smoothed   float32  `json:"smoothed"`   // Clamped and smoothed score
	HasVoice   bool     `json:"has_voice"`  // Hysteresis decision
	Confidence float32  `json:"confidence"` // Distance from threshold scaled to 0-1
	Closed     *Segment `json:"segment,omitempty"`
}

// Segment represents a continuous run of voiced frames
type Segment struct {
	StartFrame uint64        `json:"start_frame"`
	EndFrame   uint64        `json:"end_frame"` // Last voiced frame, inclusive
	Start      time.Duration `json:"start"`
	Duration   time.Duration `json:"duration"`
	Confidence float32       `json:"confidence"` // Average confidence over the segment
}

// Stats represents detector statistics
type Stats struct {
	TotalFrames     uint64    `json:"total_frames"`
	VoiceFrames     uint64    `json:"voice_frames"`
	VoicePercentage float64   `json:"voice_percentage"`
	Segments        uint64    `json:"segments"`
	InSpeech        bool      `json:"in_speech"`
	LastScore       float32   `json:"last_score"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
}

// NewDetector creates a new detector instance
func NewDetector(config Config) (*Detector, error) {
	if config.Threshold < 0 || config.Threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", config.Threshold)
	}
	if config.Smoothing <= 0 || config.Smoothing > 1 {
		return nil, fmt.Errorf("smoothing must be in (0, 1], got %f", config.Smoothing)
	}
	if config.MinSpeechFrames <= 0 {
		return nil, fmt.Errorf("min speech frames must be positive, got %d", config.MinSpeechFrames)
	}
	if config.MinSilenceFrames <= 0 {
		return nil, fmt.Errorf("min silence frames must be positive, got %d", config.MinSilenceFrames)
	}
	if config.FrameLength <= 0 {
		return nil, fmt.Errorf("frame length must be positive, got %d", config.FrameLength)
	}
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	return &Detector{config: config}, nil
}

// Process consumes the raw score of the next frame.
func (d *Detector) Process(score float32) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	index := d.totalFrames
	clamped := clamp(score)

	if d.totalFrames > 0 {
		d.smoothed = d.config.Smoothing*clamped + (1-d.config.Smoothing)*d.smoothed
	} else {
		d.smoothed = clamped
	}

	above := d.smoothed >= d.config.Threshold
	confidence := float32(math.Abs(float64(d.smoothed - d.config.Threshold)))
	if confidence > 0.5 {
		confidence = 0.5
	}
	confidence = confidence * 2 // Scale to 0-1

	result := Result{
		FrameIndex: index,
		Score:      score,
		Smoothed:   d.smoothed,
		Confidence: confidence,
	}

	if !d.inSpeech {
		if above {
			d.speechRun++
			d.confidences += confidence
			d.confFrames++
			if d.speechRun >= d.config.MinSpeechFrames {
				d.inSpeech = true
				d.silenceRun = 0
				d.current = &Segment{StartFrame: index + 1 - uint64(d.speechRun)}
				// Frames before the segment opened count as voiced
				d.voiceFrames += uint64(d.speechRun - 1)
			}
		} else {
			d.speechRun = 0
			d.confidences = 0
			d.confFrames = 0
		}
	} else {
		if above {
			d.silenceRun = 0
			d.confidences += confidence
			d.confFrames++
		} else {
			d.silenceRun++
			if d.silenceRun >= d.config.MinSilenceFrames {
				result.Closed = d.closeSegment(index - uint64(d.silenceRun))
			}
		}
	}

	result.HasVoice = d.inSpeech
	if d.inSpeech {
		d.voiceFrames++
	}

	d.totalFrames++
	d.lastScore = score
	d.lastProcessed = time.Now()

	return result
}

// Flush closes an open segment at the last processed frame and returns it.
func (d *Detector) Flush() *Segment {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.inSpeech || d.totalFrames == 0 {
		return nil
	}
	return d.closeSegment(d.totalFrames - 1 - uint64(d.silenceRun))
}

// closeSegment ends the current segment at endFrame. Caller holds the lock.
func (d *Detector) closeSegment(endFrame uint64) *Segment {
	seg := d.current
	seg.EndFrame = endFrame
	frames := endFrame - seg.StartFrame + 1
	seg.Start = d.frameTime(seg.StartFrame)
	seg.Duration = d.frameTime(frames)
	if d.confFrames > 0 {
		seg.Confidence = d.confidences / float32(d.confFrames)
	}

	if len(d.segments) == maxRetainedSegments {
		copy(d.segments, d.segments[1:])
		d.segments = d.segments[:maxRetainedSegments-1]
	}
	d.segments = append(d.segments, *seg)
	d.segmentCount++

	d.inSpeech = false
	d.current = nil
	d.speechRun = 0
	d.silenceRun = 0
	d.confidences = 0
	d.confFrames = 0

	closed := *seg
	return &closed
}

func (d *Detector) frameTime(frames uint64) time.Duration {
	return time.Duration(frames) * time.Duration(d.config.FrameLength) * time.Second / time.Duration(d.config.SampleRate)
}

// clamp limits a raw score to [0, 1]. NaN maps to 0.
func clamp(score float32) float32 {
	switch {
	case score != score:
		return 0
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

// Segments returns the most recent closed segments, oldest first
func (d *Detector) Segments() []Segment {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Segment(nil), d.segments...)
}

// Stats returns current detector statistics
func (d *Detector) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	voicePercentage := float64(0)
	if d.totalFrames > 0 {
		voicePercentage = float64(d.voiceFrames) / float64(d.totalFrames) * 100
	}

	return Stats{
		TotalFrames:     d.totalFrames,
		VoiceFrames:     d.voiceFrames,
		VoicePercentage: voicePercentage,
		Segments:        d.segmentCount,
		InSpeech:        d.inSpeech,
		LastScore:       d.lastScore,
		LastProcessed:   d.lastProcessed,
		Threshold:       d.config.Threshold,
	}
}

// UpdateThreshold updates the voice detection threshold
func (d *Detector) UpdateThreshold(threshold float32) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.config.Threshold = threshold
	return nil
}

// Threshold returns the current voice detection threshold
func (d *Detector) Threshold() float32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config.Threshold
}
