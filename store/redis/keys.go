package redis

const prefix = "adreel:"

func jobKey(jobID string) string { return prefix + "job:" + jobID }

func queueKey(queue string) string { return prefix + "queue:" + queue }

const runningKey = prefix + "running"
