package repository

// Repositories bundles every store the services need, whichever driver backs them.
type Repositories struct {
	Templates    TemplateRepository
	Interactions InteractionRepository
	Jobs         JobRepository
	Audio        AudioRepository
	Transcripts  TranscriptRepository
	Embeddings   EmbeddingRepository
	Users        UserRepository
	Outbox       OutboxRepository
}
