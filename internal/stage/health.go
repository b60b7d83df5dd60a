package stage

// Health summarizes the readiness of the collaborator behind a stage.
type Health struct {
	Name   Name
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name Name) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name Name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}
