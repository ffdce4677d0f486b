// Package redis implements the job store on Redis so multiple API and
// worker processes share one queue.
//
// Layout: each job lives as JSON under "adreel:job:{id}"; every queue is
// a sorted set "adreel:queue:{name}" scored by the job's due time; the
// running set "adreel:running" is scored by last heartbeat. Claiming a
// job runs as an optimistic transaction so two workers can never claim
// the same job.
package redis
