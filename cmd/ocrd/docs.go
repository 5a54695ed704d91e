package main

// General API documentation for swaggo. Build with -tags swagger to serve the UI.
//
// @title           ocrd API
// @version         1.0
// @description     Document recognition: OCR tasks, full document parsing and model lifecycle control.
//
// @BasePath  /
//
// @schemes http
