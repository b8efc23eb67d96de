package models

// All lists every persisted model in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&UserPointStats{},
		&PointTransaction{},
		&Topic{},
		&Question{},
		&QuestionOption{},
		&QuestionTopic{},
		&Vote{},
		&DailyChallengeSet{},
		&TopicExpertise{},
		&Badge{},
		&Referral{},
		&PageView{},
		&UploadedFile{},
	}
}
