package scan

import (
	"github.com/kozaktomas/school-attendance/internal/database"
	"github.com/kozaktomas/school-attendance/internal/textnorm"
)

// Allows reports whether p is within the scope. A classroom filter rejects
// people without a classroom. Levels compare case and accent insensitively.
func (f Filters) Allows(p database.Person) bool {
	if f.ClassroomID != nil {
		if p.ClassroomID == nil || *p.ClassroomID != *f.ClassroomID {
			return false
		}
	}
	if level := textnorm.Key(f.Level); level != "" {
		if textnorm.Key(p.Level) != level {
			return false
		}
	}
	return true
}
