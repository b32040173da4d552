package service

import "github.com/phrazzld/scribe/internal/domain"

// Caller identifies who is making a request.
type Caller struct {
	// Subject is the verified token subject. It becomes the owner of new jobs.
	Subject string
	// Operator callers may read and cancel every job.
	Operator bool
}

// Anonymous reports whether the request carried no identity, which is the
// case when authentication is disabled.
func (c Caller) Anonymous() bool {
	return c.Subject == "" && !c.Operator
}

// CanAccess reports whether the caller may read or cancel job.
func (c Caller) CanAccess(job *domain.Job) bool {
	return c.Operator || c.Anonymous() || job.OwnerID == c.Subject
}
