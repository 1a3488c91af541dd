package graphql

// Schema is the GraphQL surface over the coordinator facade: queries for the
// read operations, mutations for everything that changes state.
const Schema = `
	schema {
		query: Query
		mutation: Mutation
	}

	type Query {
		job(id: ID!): Job
		pendingJobs: [Job!]!
		workers(status: String, tags: [String!]): [Worker!]!
		clusterStats: ClusterStats!
		plugins: [Plugin!]!
		plugin(id: ID!): Plugin
	}

	type Mutation {
		submitJob(input: SubmitJobInput!): SubmitJobPayload!
		cancelJob(id: ID!, reason: String): Boolean!
		registerWorker(input: RegisterWorkerInput!): RegisterWorkerPayload!
		deregisterWorker(id: ID!, reason: String): Boolean!
	}

	input SubmitJobInput {
		jobType: String!
		payload: String
		priority: Int
		taskCount: Int
		timeoutSeconds: Int
		maxRetries: Int
		requiredTags: [String!]
	}

	type SubmitJobPayload {
		jobId: ID!
		success: Boolean!
		message: String!
	}

	input RegisterWorkerInput {
		workerId: ID!
		address: String
		capacity: Int
		tags: [String!]
	}

	type RegisterWorkerPayload {
		success: Boolean!
		assignedWorkerId: ID!
		heartbeatInterval: Int!
		coordinatorVersion: String!
	}

	type Job {
		jobId: ID!
		status: String!
		progress: Float!
		result: String
		error: String
		createdAt: String!
		startedAt: String
		completedAt: String
	}

	type Worker {
		workerId: ID!
		address: String!
		status: String!
		currentTasks: Int!
		capacity: Int!
		load: Float!
		tags: [String!]!
		lastHeartbeat: String!
	}

	type ClusterStats {
		totalWorkers: Int!
		activeWorkers: Int!
		totalJobs: Int!
		pendingJobs: Int!
		runningJobs: Int!
		completedJobs: Int!
		failedJobs: Int!
		avgJobDuration: Float!
		uptimeSeconds: Int!
	}

	type Plugin {
		id: ID!
		name: String!
		version: String!
		pluginType: String!
		status: String!
		executionCount: Int!
		errorCount: Int!
	}
`
