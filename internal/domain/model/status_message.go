package model

// StatusMessage is the lightweight cross-process envelope pushed to the status
// queue when a job changes state. It lives only on the queue; it is never
// persisted with the job.
type StatusMessage struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"jobStatus"`
	// Tries counts delivery attempts so far; the consumer re-enqueues failed
	// messages with delay = baseDelay * Tries until the retry budget runs out.
	Tries int `json:"tries"`
	// TaskID is the handle of the external compute task executing the job, when
	// execution was offloaded. Consumers use it to stop the task on failure.
	TaskID *string `json:"taskId,omitempty"`
}

// NextTry returns a copy of the message with the try counter advanced.
func (m StatusMessage) NextTry() StatusMessage {
	m.Tries++
	return m
}
