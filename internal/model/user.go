package model

type UserRole string

const (
	Learner  UserRole = "learner"
	Reviewer UserRole = "reviewer"
	Admin    UserRole = "admin"
)
