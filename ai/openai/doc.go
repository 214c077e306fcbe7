// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package openai provides AI service implementations using OpenAI-compatible APIs.
//
// This package implements ai.AIProvider with the langchaingo library, talking
// to OpenAI or compatible servers such as Ollama, LocalAI or vLLM.
//
// Backend failures are mapped onto the core error taxonomy: transport and
// server errors become core.ErrEmbeddingUnavailable or
// core.ErrGenerationUnavailable, and a content-filter stop becomes
// core.ErrGenerationRefused.
//
//	config := ai.NewConfig(
//	    ai.WithHost("http://localhost:11434"), // /v1 added automatically
//	    ai.WithGenerationModel("qwen2.5:3b"),
//	)
//	provider, err := openai.NewProvider(config)
package openai
