package answer

// GeneralSystemPrompt is the system prompt for questions asked without a document.
const GeneralSystemPrompt = "You are a helpful Assistant, Answer the user's question using your knowledge."

const contextPromptTemplate = `You are a helpful assistant. Use the following context to answer the question.

Context:
%s

Question:
%s

Answer:`
