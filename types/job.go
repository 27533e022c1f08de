package types

// Job 一次作业的不可变上下文。
// 由被领取的记录构造，显式传给 selector、deliberation graph、工具与 extractor。
type Job struct {
	ID       string
	Question string
	Options  [OptionCount]string
	Truth    *int
	// Attempt 为整条流水线的第几次执行（从 1 开始）。
	Attempt int
}

// NewJob 由题目记录构造作业上下文。
func NewJob(rec *QuestionRecord) Job {
	j := Job{
		ID:       rec.ID,
		Question: rec.Question,
		Options:  rec.Options,
		Attempt:  1,
	}
	if rec.Truth != nil {
		t := *rec.Truth
		j.Truth = &t
	}
	return j
}

// WithAttempt 返回 Attempt 被替换后的副本。
func (j Job) WithAttempt(attempt int) Job {
	j.Attempt = attempt
	return j
}
