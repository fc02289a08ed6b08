package attempt

import (
	"context"
	"encoding/json"

	"github.com/mind-engage/mindengage-exams/internal/schedule"
)

// RegisterJobs wires the deadline job to SystemSubmit.
func (s *Service) RegisterJobs(reg *schedule.Registry) {
	reg.Register(JobSubmitExam, s.handleSubmitJob)
}

func (s *Service) handleSubmitJob(ctx context.Context, job schedule.Job) error {
	var p submitPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil || p.ID <= 0 {
		// redelivery cannot fix a bad payload
		s.log.Error().Err(err).Str("job_id", job.ID).Bytes("payload", job.Payload).Msg("bad submit_exam payload")
		return nil
	}
	l := s.log.With().Str("job_id", job.ID).Int64("attempt_id", p.ID).Int("delivery", job.Attempt).Logger()
	if err := s.SystemSubmit(ctx, p.ID); err != nil {
		l.Error().Err(err).Msg("system submit failed")
		return err
	}
	l.Debug().Msg("system submit done")
	return nil
}
