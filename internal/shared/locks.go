package shared

import "fmt"

// JobLockKey builds redis keys for single-flight background jobs.
func JobLockKey(job string, companyID int64) string {
	if companyID <= 0 {
		return fmt.Sprintf("fieldstock:job:%s:lock", job)
	}
	return fmt.Sprintf("fieldstock:job:%s:company:%d:lock", job, companyID)
}
