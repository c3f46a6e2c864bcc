package openai

const queryPromptTemplate = `Generate %[1]d search queries to search for to answer the user's question. These search queries should be diverse in nature - do not generate repetitive ones.

Output ONLY valid JSON. Do not include any preamble, explanation, greeting, or acknowledgment.
Start your response directly with the opening brace { and end with the closing brace }.
Your output must exactly follow this shape:

{"queries": ["first query", "second query"]}

Rules:
- Return at most %[1]d queries.
- Each query is a single line of plain text.
- The JSON must parse without errors; no trailing commas, no extra keys, and no extraneous text outside the object.`
