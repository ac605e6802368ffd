// Package generation выполняет задания генерации изображений.
//
// Pipeline.Run берёт задание из PENDING/GENERATING, вызывает Generator,
// при необходимости скачивает изображение по URL, сохраняет его
// и миниатюру в blob store под детерминированными ключами и переводит
// задание в GENERATED. Повторы и перевод в FAILED — через executor.
//
// Реализации Generator:
//   - httpgen — HTTP API в стиле Blackbox (prompt, steps, guidance_scale)
//   - gemini — Imagen через google.golang.org/genai
package generation
