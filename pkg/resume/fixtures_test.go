package resume

const sampleResume = `Jane Doe
jane.doe@example.org | +1 415 555 0101

SUMMARY
Backend engineer building distributed systems in Go and Python.

EXPERIENCE
Senior Software Engineer, Acme Cloud (2020-2024)
- Built Go microservices on Kubernetes serving 2M requests per day
- Reduced p99 latency by 40% by redesigning the PostgreSQL access layer
- Led a team of 4 engineers and mentored two juniors

Software Engineer, Beta Labs (2017-2020)
- Developed Python REST APIs with Django
- Automated CI/CD pipelines with Jenkins and Docker

EDUCATION
BSc Computer Science, Universitat de Barcelona, 2017

SKILLS
Go, Python, Kubernetes, Docker, PostgreSQL, AWS, Git
`

const sampleJob = `Senior Backend Engineer

We are looking for a senior backend engineer to design and operate microservices.

Responsibilities:
- Design and build Go microservices running on Kubernetes
- Operate PostgreSQL and Kafka in production on AWS
- Mentor engineers and drive technical decisions

Requirements:
- 5+ years of experience with Go or Python
- Experience with Docker, Kubernetes and CI/CD
- Strong communication and leadership

Nice to have: Terraform and GraphQL.
`
